package alm_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/internal/sqlite"
	"github.com/mesh-intelligence/almsync/internal/testutil"
	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// recordedCall is one operation call as it went over the wire.
type recordedCall struct {
	Operation string            `json:"operation"`
	Params    []json.RawMessage `json:"params"`
}

// errTransport is returned by the recorder for calls it is told to fail.
var errTransport = errors.New("connection reset by peer")

// recorder is a transport that records every operation call and can fail
// chosen operations before they reach the server.
type recorder struct {
	mu    sync.Mutex
	calls []recordedCall
	fail  map[string]int
}

// failNext makes the next n calls of operation fail with errTransport.
func (r *recorder) failNext(operation string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = make(map[string]int)
	}
	r.fail[operation] = n
}

func (r *recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost && req.Body != nil {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		var c recordedCall
		if json.Unmarshal(body, &c) == nil {
			r.mu.Lock()
			r.calls = append(r.calls, c)
			failing := r.fail[c.Operation] > 0
			if failing {
				r.fail[c.Operation]--
			}
			r.mu.Unlock()
			if failing {
				return nil, errTransport
			}
		}
		req = req.Clone(req.Context())
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	return http.DefaultTransport.RoundTrip(req)
}

// ops returns the recorded calls of operation.
func (r *recorder) ops(operation string) []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedCall
	for _, c := range r.calls {
		if c.Operation == operation {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func connect(t *testing.T) (*alm.Client, *recorder) {
	t.Helper()
	c, rec, _ := connectServer(t)
	return c, rec
}

func connectServer(t *testing.T) (*alm.Client, *recorder, *testutil.Server) {
	t.Helper()
	srv := testutil.NewServer(t)
	rec := &recorder{}
	c, err := alm.Connect(context.Background(), srv.Config(), alm.WithTransport(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, rec, srv
}

func demoProject(t *testing.T, c *alm.Client) *alm.Project {
	t.Helper()
	p, err := c.Project(context.Background(), sqlite.DemoProject)
	require.NoError(t, err)
	return p
}

func workItemURI(id string) string {
	return types.ObjectURI(sqlite.DemoProject, "WorkItem", id)
}

func testRunURI(id string) string {
	return types.ObjectURI(sqlite.DemoProject, "TestRun", id)
}

func planURI(id string) string {
	return types.ObjectURI(sqlite.DemoProject, "Plan", id)
}

func documentURI(location string) string {
	return types.ObjectURI(sqlite.DemoProject, "Module", location)
}

func loadWorkItem(t *testing.T, c *alm.Client, id string) *alm.WorkItem {
	t.Helper()
	w, err := c.WorkItem(context.Background(), workItemURI(id))
	require.NoError(t, err)
	return w
}
