package transport

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config defines gateway connection defaults.
type Config struct {
	URL                    string
	AccessToken            string
	ConnectTimeout         time.Duration
	WriteTimeout           time.Duration
	Backoff                BackoffConfig
	MaxConsecutiveFailures int
}

// DefaultConfig reconnects every 30s and gives up after 5 failures in a row.
func DefaultConfig() Config {
	return Config{
		URL:            "ws://127.0.0.1:8080",
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 30 * time.Second,
			Multiplier:   1.0,
		},
		MaxConsecutiveFailures: 5,
	}
}

// WithDefaults fills zero durations from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return ErrURLRequired
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	return nil
}
