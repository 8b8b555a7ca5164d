// This file implements the Session service and the credential checks of the
// attachment side channel.
package sqlite

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/almsync/internal/rpc"
)

// TokenMechanism is the only mechanism logInWithToken accepts.
const TokenMechanism = "AccessToken"

func authFailed(user string) error {
	return fault(rpc.FaultAuthentication, "invalid credentials for %q", user)
}

func (b *Backend) logIn(c *call) (any, error) {
	var user, password string
	if err := c.bind(&user, &password); err != nil {
		return nil, err
	}
	if err := b.checkPassword(user, password); err != nil {
		return nil, err
	}
	return b.openSession(user)
}

func (b *Backend) logInWithToken(c *call) (any, error) {
	var mechanism, user, token string
	if err := c.bind(&mechanism, &user, &token); err != nil {
		return nil, err
	}
	if mechanism != TokenMechanism {
		return nil, invalid("unsupported login mechanism %q", mechanism)
	}
	owner, err := b.tokenOwner(token)
	if err != nil {
		return nil, err
	}
	if user != "" && user != owner {
		return nil, authFailed(user)
	}
	return b.openSession(owner)
}

func (b *Backend) endSession(c *call) (any, error) {
	var session string
	if err := c.bind(&session); err != nil {
		return nil, err
	}
	if _, err := b.db.Exec("DELETE FROM sessions WHERE session_id = ?", session); err != nil {
		return nil, fmt.Errorf("ending session: %w", err)
	}
	return nil, nil
}

func (b *Backend) hasSubject(c *call) (any, error) {
	var session string
	if err := c.bind(&session); err != nil {
		return nil, err
	}
	_, err := b.sessionUser(session)
	return err == nil, nil
}

func (b *Backend) openSession(user string) (string, error) {
	id := generateUUID()
	_, err := b.db.Exec("INSERT INTO sessions (session_id, user_id, created_at) VALUES (?, ?, ?)",
		id, user, timestamp(b.now()))
	if err != nil {
		return "", fmt.Errorf("opening session: %w", err)
	}
	return id, nil
}

// sessionUser returns the user owning session.
func (b *Backend) sessionUser(session string) (string, error) {
	var user string
	err := b.db.QueryRow("SELECT user_id FROM sessions WHERE session_id = ?", session).Scan(&user)
	if errors.Is(err, sql.ErrNoRows) || session == "" {
		return "", fault(rpc.FaultInvalidSession, "session is not valid")
	}
	if err != nil {
		return "", fmt.Errorf("looking up session: %w", err)
	}
	return user, nil
}

func (b *Backend) checkPassword(user, password string) error {
	var stored sql.NullString
	err := b.db.QueryRow("SELECT password FROM users WHERE user_id = ?", user).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return authFailed(user)
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}
	if !stored.Valid || subtle.ConstantTimeCompare([]byte(stored.String), []byte(password)) != 1 {
		return authFailed(user)
	}
	return nil
}

func (b *Backend) tokenOwner(token string) (string, error) {
	var user string
	err := b.db.QueryRow("SELECT user_id FROM tokens WHERE token = ?", token).Scan(&user)
	if errors.Is(err, sql.ErrNoRows) {
		return "", authFailed("token")
	}
	if err != nil {
		return "", fmt.Errorf("looking up token: %w", err)
	}
	return user, nil
}

// AddToken registers an access token for user.
func (b *Backend) AddToken(token, user string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return ErrDetached
	}
	_, err := b.db.Exec("INSERT OR REPLACE INTO tokens (token, user_id) VALUES (?, ?)", token, user)
	return err
}

// ExpireSessions drops every open session, as a server restart would.
func (b *Backend) ExpireSessions() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return ErrDetached
	}
	_, err := b.db.Exec("DELETE FROM sessions")
	return err
}

// AuthorizeDownload checks side-channel credentials: a user and password, or
// a bearer token when user is empty. It fails with rpc.FaultAuthentication
// for bad credentials and rpc.FaultRejected for a user without download
// rights.
func (b *Backend) AuthorizeDownload(user, password, token string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return ErrDetached
	}

	if token != "" {
		owner, err := b.tokenOwner(token)
		if err != nil {
			return err
		}
		user = owner
	} else if err := b.checkPassword(user, password); err != nil {
		return err
	}

	var canDownload bool
	if err := b.db.QueryRow("SELECT can_download FROM users WHERE user_id = ?", user).Scan(&canDownload); err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}
	if !canDownload {
		return rejected("user %q may not download attachments", user)
	}
	return nil
}

// OpenSessions returns the number of sessions that have not ended.
func (b *Backend) OpenSessions() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return 0, ErrDetached
	}
	var n int
	if err := b.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}
