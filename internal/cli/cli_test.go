package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/internal/sqlite"
	"github.com/mesh-intelligence/almsync/internal/testutil"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// harness runs almctl commands against a seeded reference server.
type harness struct {
	srv       *testutil.Server
	configDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{srv: testutil.NewServer(t), configDir: t.TempDir()}
}

// run executes almctl with args and returns what it printed.
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{
		stderr: io.Discard,
		prompt: func(user string) (string, error) {
			assert.Equal(t, sqlite.DemoUser, user)
			return sqlite.DemoPassword, nil
		},
	}
	root := a.rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{
		"--config-dir", h.configDir,
		"--url", h.srv.URL,
		"--user", sqlite.DemoUser,
	}, args...))
	err := a.execute(context.Background(), root)
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, args...)
	require.NoError(t, err)
	return out
}

func TestVersion(t *testing.T) {
	out := newHarness(t).mustRun(t, "version")
	assert.Contains(t, out, "almctl v0.1.0")
	assert.Contains(t, out, modulePath)
}

func TestInit(t *testing.T) {
	h := newHarness(t)
	dataDir := filepath.Join(t.TempDir(), "db")

	out := h.mustRun(t, "--data-dir", dataDir, "init")
	assert.Contains(t, out, "almctl initialized")
	assert.Contains(t, out, dataDir)

	assert.FileExists(t, filepath.Join(h.configDir, configFileExt))
	assert.DirExists(t, dataDir)
}

func TestWorkItemGet(t *testing.T) {
	h := newHarness(t)

	t.Run("text", func(t *testing.T) {
		out := h.mustRun(t, "workitem", "get", sqlite.DemoProject, "PROJ-3")
		assert.Contains(t, out, "Build login page")
		assert.Contains(t, out, "task")
		assert.Contains(t, out, "bob")
	})

	t.Run("json", func(t *testing.T) {
		out := h.mustRun(t, "--json", "wi", "get", sqlite.DemoProject, "PROJ-3")
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "PROJ-3", got["id"])
		assert.Equal(t, "Build login page", got["title"])
	})

	t.Run("missing work item", func(t *testing.T) {
		_, err := h.run(t, "workitem", "get", sqlite.DemoProject, "PROJ-999")
		require.ErrorIs(t, err, types.ErrNotFound)
		assert.Equal(t, exitUserError, exitCode(err))
	})
}

func TestSessionEndsWhenCommandFails(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{"failing command", []string{"workitem", "get", sqlite.DemoProject, "PROJ-999"}},
		{"successful command", []string{"workitem", "get", sqlite.DemoProject, "PROJ-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _ = h.run(t, tt.args...)
			open, err := h.srv.Backend.OpenSessions()
			require.NoError(t, err)
			assert.Zero(t, open)
		})
	}
	assert.NoError(t, session.RunExitHooks(context.Background()))
}

func TestWorkItemLifecycle(t *testing.T) {
	h := newHarness(t)

	id := h.mustRun(t, "workitem", "create", sqlite.DemoProject, "task", "Write release notes")
	id = string(bytes.TrimSpace([]byte(id)))
	require.NotEmpty(t, id)

	out := h.mustRun(t, "workitem", "set", sqlite.DemoProject, id, "title=Write the release notes", "description=<p>for 1.0</p>")
	assert.Contains(t, out, "Write the release notes")
	assert.Contains(t, out, "for 1.0")

	out = h.mustRun(t, "workitem", "comment", "--title", "Note", sqlite.DemoProject, id, "started drafting")
	assert.Contains(t, out, "Added comment to "+id)

	out = h.mustRun(t, "workitem", "action", sqlite.DemoProject, id)
	assert.Contains(t, out, "start")

	out = h.mustRun(t, "workitem", "action", sqlite.DemoProject, id, "start")
	assert.Contains(t, out, id+" is now inprogress")

	out = h.mustRun(t, "workitem", "delete", sqlite.DemoProject, id)
	assert.Contains(t, out, "Deleted "+id)

	_, err := h.run(t, "workitem", "get", sqlite.DemoProject, id)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestWorkItemSet_Errors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"not key=value", []string{"title"}, errUsage},
		{"empty key", []string{"=x"}, errUsage},
		{"custom field not allowed", []string{"nonsense=1"}, types.ErrFieldNotAllowed},
		{"unavailable status", []string{"status=closed"}, types.ErrStatusNotAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"workitem", "set", sqlite.DemoProject, "PROJ-3"}, tt.args...)
			_, err := h.run(t, args...)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, exitUserError, exitCode(err))
		})
	}
}

func TestWorkItemAction_Unknown(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "workitem", "action", sqlite.DemoProject, "PROJ-3", "teleport")
	require.ErrorIs(t, err, types.ErrActionNotFound)
}

func TestTestRun(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "testrun", "get", sqlite.DemoProject, "RUN-1")
	assert.Contains(t, out, "Smoke")
	assert.Contains(t, out, "[0] PROJ-2 passed")

	out = h.mustRun(t, "testrun", "result", "--comment", "<p>timeout</p>", sqlite.DemoProject, "RUN-1", "PROJ-2", "failed")
	assert.Contains(t, out, "Recorded failed for PROJ-2 in RUN-1")

	out = h.mustRun(t, "tr", "get", sqlite.DemoProject, "RUN-1")
	assert.Contains(t, out, "[1] PROJ-2 failed")

	_, err := h.run(t, "testrun", "result", sqlite.DemoProject, "RUN-1", "PROJ-2", "flaky")
	require.ErrorIs(t, err, types.ErrInvalidResult)

	out = h.mustRun(t, "--json", "testrun", "create", "--template", "SMOKE-TEMPLATE", sqlite.DemoProject, "RUN-2", "Nightly")
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "RUN-2", got["id"])
	assert.Equal(t, "Nightly", got["title"])
}

func TestPlan(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "plan", "get", sqlite.DemoProject, "RELEASE-1")
	assert.Contains(t, out, "Release 1")
	assert.Contains(t, out, "2026-01-05")
	assert.Contains(t, out, "PROJ-1, PROJ-3")

	out = h.mustRun(t, "plan", "add", sqlite.DemoProject, "RELEASE-1", "PROJ-2")
	assert.Contains(t, out, "Added PROJ-2 to RELEASE-1")

	out = h.mustRun(t, "plan", "remove", sqlite.DemoProject, "RELEASE-1", "PROJ-1")
	assert.Contains(t, out, "Removed PROJ-1 from RELEASE-1")

	out = h.mustRun(t, "plan", "get", sqlite.DemoProject, "RELEASE-1")
	assert.Contains(t, out, "PROJ-3, PROJ-2")
}

func TestResolve(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		uri  string
		want string
	}{
		{"work item", types.ObjectURI(sqlite.DemoProject, "WorkItem", "PROJ-1"), "workitem PROJ-1"},
		{"test run", types.ObjectURI(sqlite.DemoProject, "TestRun", "RUN-1"), "testrun RUN-1"},
		{"plan", types.ObjectURI(sqlite.DemoProject, "Plan", "RELEASE-1"), "plan RELEASE-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := h.mustRun(t, "resolve", tt.uri)
			assert.Contains(t, out, tt.want)
		})
	}

	_, err := h.run(t, "resolve", "not-a-uri")
	require.ErrorIs(t, err, types.ErrMalformedIdentifier)
}

func TestConnect_PasswordFromEnvironment(t *testing.T) {
	h := newHarness(t)
	t.Setenv("ALM_PASSWORD", sqlite.DemoPassword)

	a := &app{stderr: io.Discard, prompt: func(string) (string, error) {
		t.Fatal("prompted although the password is configured")
		return "", nil
	}}
	root := a.rootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"--config-dir", h.configDir, "--url", h.srv.URL, "--user", sqlite.DemoUser, "workitem", "get", sqlite.DemoProject, "PROJ-1"})
	require.NoError(t, a.execute(context.Background(), root))
}

func TestConnect_NoTerminal(t *testing.T) {
	h := newHarness(t)
	t.Setenv("ALM_PASSWORD", "")

	a := &app{stderr: io.Discard, prompt: func(string) (string, error) { return "", errNoTerminal }}
	root := a.rootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config-dir", h.configDir, "--url", h.srv.URL, "--user", sqlite.DemoUser, "workitem", "get", sqlite.DemoProject, "PROJ-1"})
	err := a.execute(context.Background(), root)
	require.ErrorIs(t, err, types.ErrCredentialsMissing)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", types.ErrNotFound, exitUserError},
		{"authentication", types.ErrAuthentication, exitUserError},
		{"usage", errUsage, exitUserError},
		{"transport", os.ErrDeadlineExceeded, exitSysError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
