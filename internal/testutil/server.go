// Package testutil runs a seeded reference server for tests of the client
// packages.
package testutil

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/internal/server"
	"github.com/mesh-intelligence/almsync/internal/sqlite"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// Server is a running reference server over a seeded temporary backend.
type Server struct {
	URL     string
	Backend *sqlite.Backend
}

// NewServer attaches a seeded backend in a temp dir and serves it until the
// test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	b := sqlite.NewBackend()
	require.NoError(t, b.Attach(t.TempDir()))

	srv := httptest.NewServer(server.New(b, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		_ = b.Detach()
	})
	return &Server{URL: srv.URL, Backend: b}
}

// Config returns a client configuration for the demo user.
func (s *Server) Config() types.Config {
	return types.Config{
		URL:      s.URL,
		User:     sqlite.DemoUser,
		Password: sqlite.DemoPassword,
		Timeout:  10 * time.Second,
	}
}
