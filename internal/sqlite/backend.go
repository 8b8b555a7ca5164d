package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/almsync/internal/rpc"
)

// Backend errors.
var (
	ErrAlreadyAttached = errors.New("backend already attached")
	ErrDetached        = errors.New("backend detached")
)

// Backend holds the state of one reference ALM server. SQLite is the query
// engine; JSONL files in the data directory are loaded on Attach and written
// back on Detach.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	dataDir  string
	db       *sql.DB
	handlers map[string]handler
	now      func() time.Time
}

// NewBackend creates a backend instance. The backend is not attached; call
// Attach to open its data directory.
func NewBackend() *Backend {
	b := &Backend{now: func() time.Time { return time.Now().UTC() }}
	b.handlers = b.routes()
	return b
}

// Attach creates dataDir if needed, builds a fresh database, loads the JSONL
// files found in dataDir and seeds the demo dataset when no project exists.
func (b *Backend) Attach(dataDir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return ErrAlreadyAttached
	}
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	// The database is rebuilt from JSONL on every attach.
	dbPath := filepath.Join(dataDir, "alm.db")
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, ddl := range slices.Concat(schemaDDL, indexDDL) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	if err := loadAllJSONL(db, dataDir); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.dataDir = dataDir
	if err := b.seedDemoData(); err != nil {
		db.Close()
		b.db = nil
		return fmt.Errorf("seeding: %w", err)
	}

	b.attached = true
	return nil
}

// Detach writes every table to its JSONL file and closes the database.
// Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if err := dumpAllJSONL(b.db, b.dataDir); err != nil {
		return fmt.Errorf("persist JSONL: %w", err)
	}
	if err := b.db.Close(); err != nil {
		return err
	}
	b.db = nil
	b.attached = false
	return nil
}

// Services returns the names of the services the backend answers, sorted.
func (b *Backend) Services() []string {
	seen := make(map[string]bool)
	for key := range b.handlers {
		service, _, _ := strings.Cut(key, ".")
		seen[service] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Call runs operation of service on behalf of session. Session operations
// need no session; every other service rejects an unknown session with
// rpc.FaultInvalidSession. Errors are always *rpc.Fault.
func (b *Backend) Call(ctx context.Context, session, service, operation string, params []json.RawMessage) (any, error) {
	h, ok := b.handlers[service+"."+operation]
	if !ok {
		return nil, fault(rpc.FaultUnknownOperation, "%s has no operation %s", service, operation)
	}

	if h.write {
		b.mu.Lock()
		defer b.mu.Unlock()
	} else {
		b.mu.RLock()
		defer b.mu.RUnlock()
	}
	if !b.attached {
		return nil, fault(rpc.FaultInternal, "%v", ErrDetached)
	}

	c := &call{ctx: ctx, params: params}
	if service != serviceSession {
		user, err := b.sessionUser(session)
		if err != nil {
			return nil, err
		}
		c.user = user
	}

	out, err := h.fn(c)
	if err != nil {
		var f *rpc.Fault
		if !errors.As(err, &f) {
			f = &rpc.Fault{Code: rpc.FaultInternal, Message: err.Error()}
		}
		zerolog.Ctx(ctx).Debug().
			Str("service", service).
			Str("operation", operation).
			Str("code", f.Code).
			Msg(f.Message)
		return nil, f
	}
	return out, nil
}

// generateUUID generates a new UUID v7.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// timestamp formats t the way records carry it.
func timestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// nextCounter increments and returns the counter named scope, starting at 1.
func (b *Backend) nextCounter(scope string) (int64, error) {
	var next int64
	err := b.db.QueryRow(
		`INSERT INTO counters (scope, next_value) VALUES (?, 1)
		 ON CONFLICT(scope) DO UPDATE SET next_value = next_value + 1
		 RETURNING next_value`, scope,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("advancing counter %s: %w", scope, err)
	}
	return next, nil
}
