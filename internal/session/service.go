package session

import (
	"context"
	"encoding/json"
	"fmt"
)

// Service is a handle on one named service of a connected Manager.
type Service struct {
	name string
	m    *Manager
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Call invokes operation with params and decodes the result into out, which
// may be nil when the result is not needed. Calls to the Session service
// carry no session header.
func (s *Service) Call(ctx context.Context, operation string, out any, params ...any) error {
	session := ""
	if s.name != ServiceSession {
		session = s.m.currentSession()
	}

	raw, err := s.m.client.Call(ctx, s.name, operation, session, params...)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s.%s result: %w", s.name, operation, err)
	}
	return nil
}
