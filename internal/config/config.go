// Package config owns the on-disk TOML layout: generating a default file and
// strictly validating an existing one.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/error2913/QQ-add-group-verification/internal/gatekeeper"
	"github.com/pelletier/go-toml/v2"
)

var (
	ErrExists       = errors.New("config: file already exists")
	ErrUnknownField = errors.New("config: unknown field")
)

// File is the TOML layout of the gatekeeper config. Durations are Go
// duration strings such as "30s".
type File struct {
	WSURL              string   `toml:"ws_url"`
	AccessToken        string   `toml:"access_token"`
	Admins             []int64  `toml:"admins"`
	DefaultThreshold   int      `toml:"default_threshold"`
	DefaultTimeout     int      `toml:"default_timeout"`
	DataDir            string   `toml:"data_dir"`
	NotifyOnFailedKick bool     `toml:"notify_on_failed_kick"`
	CommandKeyword     string   `toml:"command_keyword"`
	PacingMin          string   `toml:"pacing_min"`
	PacingMax          string   `toml:"pacing_max"`
	ReconnectDelay     string   `toml:"reconnect_delay"`
	MaxConnectFailures int      `toml:"max_connect_failures"`
	ConnectTimeout     string   `toml:"connect_timeout"`
	StatusAddr         string   `toml:"status_addr"`
	StatusToken        string   `toml:"status_token"`
	CorsOrigins        []string `toml:"cors_origins"`
	Heartbeat          string   `toml:"heartbeat"`
}

// FromService renders cfg in file form.
func FromService(cfg gatekeeper.ServiceConfig) File {
	keyword := ""
	if len(cfg.Verify.CommandKeywords) > 0 {
		keyword = cfg.Verify.CommandKeywords[0]
	}
	admins := cfg.Verify.Admins
	if admins == nil {
		admins = []int64{}
	}
	origins := cfg.CorsOrigins
	if origins == nil {
		origins = []string{}
	}
	return File{
		WSURL:              cfg.Transport.URL,
		AccessToken:        cfg.Transport.AccessToken,
		Admins:             admins,
		DefaultThreshold:   cfg.Store.Defaults.Threshold,
		DefaultTimeout:     cfg.Store.Defaults.TimeoutSeconds,
		DataDir:            cfg.Store.Dir,
		NotifyOnFailedKick: cfg.Verify.NotifyOnFailedKick,
		CommandKeyword:     keyword,
		PacingMin:          cfg.RPC.PacingMin.String(),
		PacingMax:          cfg.RPC.PacingMax.String(),
		ReconnectDelay:     cfg.Transport.Backoff.InitialDelay.String(),
		MaxConnectFailures: cfg.Transport.MaxConsecutiveFailures,
		ConnectTimeout:     cfg.Transport.ConnectTimeout.String(),
		StatusAddr:         cfg.StatusAddr,
		StatusToken:        cfg.StatusToken,
		CorsOrigins:        origins,
		Heartbeat:          cfg.HeartbeatInterval.String(),
	}
}

const header = "# gatekeeper configuration\n# Durations use Go syntax, e.g. \"500ms\", \"30s\", \"1m\".\n\n"

// Encode renders f as TOML.
func Encode(f File) ([]byte, error) {
	body, err := toml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return append([]byte(header), body...), nil
}

// WriteDefault writes the default config to path. An existing file is kept
// unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	data, err := Encode(FromService(gatekeeper.DefaultServiceConfig()))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate decodes path strictly, so misspelled keys are reported instead of
// silently ignored.
func Validate(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return File{}, fmt.Errorf("%w in %s:\n%s", ErrUnknownField, path, strict.String())
		}
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}
