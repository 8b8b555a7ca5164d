package types

import (
	"errors"
	"time"
)

// Config holds the connection parameters for an ALM server.
type Config struct {
	// URL is the server base URL, for example https://alm.example.com/polarion.
	URL string `json:"url" yaml:"url" mapstructure:"url"`

	// User and Password select password login. Token selects token login
	// and takes precedence when both are set.
	User     string `json:"user" yaml:"user" mapstructure:"user"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	Token    string `json:"token" yaml:"token" mapstructure:"token"`

	// StaticServices skips the service listing and uses DefaultServices.
	StaticServices bool `json:"static_services" yaml:"static_services" mapstructure:"static_services"`

	// FallbackUser and FallbackPassword are tried on attachment downloads
	// when the primary credentials are rejected.
	FallbackUser     string `json:"fallback_user" yaml:"fallback_user" mapstructure:"fallback_user"`
	FallbackPassword string `json:"fallback_password" yaml:"fallback_password" mapstructure:"fallback_password"`

	// Timeout bounds each HTTP request. Zero means no timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// RateLimit is the request rate in requests per second. Zero disables
	// limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst" mapstructure:"rate_burst"`

	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// DefaultServices is the service list used when StaticServices is set.
var DefaultServices = []string{
	"Session", "Project", "Tracker", "Builder", "Planning", "TestManagement", "Security",
}

// Config validation errors.
var (
	ErrURLEmpty           = errors.New("url must not be empty")
	ErrCredentialsMissing = errors.New("either token or user and password must be set")
	ErrRateInvalid        = errors.New("rate limit must not be negative")
)

// UsesToken reports whether the configuration selects token login.
func (c Config) UsesToken() bool {
	return c.Token != ""
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.URL == "" {
		return ErrURLEmpty
	}
	if c.Token == "" && (c.User == "" || c.Password == "") {
		return ErrCredentialsMissing
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return ErrRateInvalid
	}
	return nil
}
