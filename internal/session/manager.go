// Package session owns the authenticated channel to an ALM server. A Manager
// discovers the published services, logs in with a password or a token,
// attaches the session token to every service call except those to the
// Session service, and re-establishes the session lazily when a liveness
// probe fails.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/almsync/internal/logging"
	"github.com/mesh-intelligence/almsync/internal/rpc"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// Well-known service names.
const (
	ServiceSession        = "Session"
	ServiceProject        = "Project"
	ServiceTracker        = "Tracker"
	ServicePlanning       = "Planning"
	ServiceTestManagement = "TestManagement"
)

// TokenMechanism is the login mechanism sent with token login.
const TokenMechanism = "AccessToken"

// Option adjusts the transport configuration of a Manager.
type Option func(*rpc.Config)

// WithTransport injects the HTTP round tripper used for every request.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *rpc.Config) { c.Transport = rt }
}

// Manager holds one logical session with an ALM server. It is safe for
// concurrent use.
type Manager struct {
	cfg    types.Config
	client *rpc.Client

	mu        sync.Mutex
	services  map[string]bool
	sessionID string
	user      string
	connected bool

	removeHook func()
}

// New validates cfg and returns an unconnected Manager.
func New(cfg types.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}

	rc := rpc.Config{
		BaseURL:   cfg.URL,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		UserAgent: cfg.UserAgent,
	}
	for _, opt := range opts {
		opt(&rc)
	}

	return &Manager{
		cfg:      cfg,
		client:   rpc.NewClient(rc),
		services: make(map[string]bool),
		user:     cfg.User,
	}, nil
}

// Connect discovers the available services and logs in. Discovery uses
// types.DefaultServices when the configuration asks for a static list. A
// rejected login, or a server without a Session service, yields
// types.ErrAuthentication.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	log := zerolog.Ctx(ctx)
	m.connected = false

	names := types.DefaultServices
	if !m.cfg.StaticServices {
		discovered, err := m.client.Discover(ctx)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", m.cfg.URL, err)
		}
		names = discovered
	}
	m.services = make(map[string]bool, len(names))
	for _, name := range names {
		m.services[name] = true
	}
	log.Debug().Strs("services", names).Bool("static", m.cfg.StaticServices).Msg("services resolved")

	if !m.services[ServiceSession] {
		return fmt.Errorf("%w: %s publishes no %s service", types.ErrAuthentication, m.cfg.URL, ServiceSession)
	}

	id, err := m.login(ctx)
	if err != nil {
		return err
	}
	m.sessionID = id
	m.connected = true

	if m.removeHook == nil {
		m.removeHook = RegisterExitHook(m.Close)
	}

	log.Info().
		Str("url", m.cfg.URL).
		Str("user", logging.SafeValue("user", m.user)).
		Bool("token", m.cfg.UsesToken()).
		Msg("session established")
	return nil
}

// login runs logIn or logInWithToken and returns the session token.
func (m *Manager) login(ctx context.Context) (string, error) {
	var (
		raw json.RawMessage
		err error
	)
	if m.cfg.UsesToken() {
		user, err := m.tokenUser()
		if err != nil {
			return "", err
		}
		m.user = user
		raw, err = m.client.Call(ctx, ServiceSession, "logInWithToken", "", TokenMechanism, user, m.cfg.Token)
		if err != nil {
			return "", fmt.Errorf("%w: token login as %q: %w", types.ErrAuthentication, user, err)
		}
	} else {
		raw, err = m.client.Call(ctx, ServiceSession, "logIn", "", m.cfg.User, m.cfg.Password)
		if err != nil {
			return "", fmt.Errorf("%w: log in as %q: %w", types.ErrAuthentication, m.cfg.User, err)
		}
	}

	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return "", fmt.Errorf("%w: server returned no session id", types.ErrAuthentication)
	}
	return id, nil
}

// tokenUser names the user a token logs in as: the configured user, or the
// subject claim when the token is a JWT. An expired JWT is rejected before
// contacting the server.
func (m *Manager) tokenUser() (string, error) {
	subject, expires, ok := tokenClaims(m.cfg.Token)
	if ok && !expires.IsZero() && time.Now().After(expires) {
		return "", fmt.Errorf("%w: token expired at %s", types.ErrAuthentication, expires.Format(time.RFC3339))
	}
	if m.cfg.User != "" {
		return m.cfg.User, nil
	}
	return subject, nil
}

// tokenClaims reads the subject and expiry of a JWT without verifying its
// signature; the server does that. ok is false for opaque tokens.
func tokenClaims(token string) (subject string, expires time.Time, ok bool) {
	claims := gojwt.MapClaims{}
	if _, _, err := gojwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", time.Time{}, false
	}
	subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expires = exp.Time
	}
	return subject, expires, true
}

// HasService reports whether name was discovered. It performs no I/O.
func (m *Manager) HasService(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.services[name]
}

// User returns the user the session is logged in as.
func (m *Manager) User() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Service returns a handle on the named service. Before returning it probes
// the session and, when the probe fails, runs the full connect sequence
// again. The reconnect is the only retry: errors from later calls through
// the handle propagate unchanged.
func (m *Manager) Service(ctx context.Context, name string) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, types.ErrNotConnected
	}
	if !m.services[name] {
		return nil, fmt.Errorf("%w: %s", types.ErrServiceNotFound, name)
	}

	if err := m.probeLocked(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("session probe failed, reconnecting")
		if err := m.connectLocked(ctx); err != nil {
			return nil, fmt.Errorf("reconnect: %w", err)
		}
	}
	return &Service{name: name, m: m}, nil
}

// probeLocked checks the session with a cheap read: the current user when
// both the user and the Project service are known, otherwise hasSubject.
func (m *Manager) probeLocked(ctx context.Context) error {
	if m.user != "" && m.services[ServiceProject] {
		_, err := m.client.Call(ctx, ServiceProject, "getUser", m.sessionID, m.user)
		return err
	}

	raw, err := m.client.Call(ctx, ServiceSession, "hasSubject", "", m.sessionID)
	if err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return fmt.Errorf("decode hasSubject: %w", err)
	}
	if !ok {
		return errors.New("session has no subject")
	}
	return nil
}

// currentSession returns the session token for a service call.
func (m *Manager) currentSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Close ends the remote session. It is idempotent and is also registered as
// an exit hook by Connect.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.removeHook != nil {
		m.removeHook()
		m.removeHook = nil
	}
	if !m.connected {
		return nil
	}
	m.connected = false

	if _, err := m.client.Call(ctx, ServiceSession, "endSession", "", m.sessionID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("url", m.cfg.URL).Msg("session ended")
	return nil
}

// Download fetches an attachment through the side channel. The primary
// credentials are tried first; when the server rejects them with 401 or 403
// and a fallback pair is configured, the request is repeated once with it.
func (m *Manager) Download(ctx context.Context, url string) ([]byte, error) {
	var primary rpc.Auth = rpc.BasicAuth{Username: m.cfg.User, Password: m.cfg.Password}
	if m.cfg.UsesToken() {
		primary = rpc.BearerToken{Token: m.cfg.Token}
	}

	data, err := m.client.Download(ctx, url, primary)
	var httpErr *rpc.HTTPError
	if err != nil && errors.As(err, &httpErr) && httpErr.IsUnauthorized() && m.cfg.FallbackUser != "" {
		zerolog.Ctx(ctx).Warn().
			Str("fallback_user", m.cfg.FallbackUser).
			Int("status", httpErr.StatusCode).
			Msg("download rejected, retrying with fallback credentials")
		data, err = m.client.Download(ctx, url, rpc.BasicAuth{Username: m.cfg.FallbackUser, Password: m.cfg.FallbackPassword})
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return data, nil
}
