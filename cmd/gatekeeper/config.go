package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/error2913/QQ-add-group-verification/internal/config"
	"github.com/error2913/QQ-add-group-verification/internal/gatekeeper"
)

// loadServiceConfig applies the keys present in path over the defaults. A
// missing file yields the defaults.
func loadServiceConfig(path string) (gatekeeper.ServiceConfig, error) {
	cfg := gatekeeper.DefaultServiceConfig()

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return gatekeeper.ServiceConfig{}, fmt.Errorf("load gatekeeper config: %w", err)
	}

	if meta.IsDefined("ws_url") {
		cfg.Transport.URL = strings.TrimSpace(raw.WSURL)
	}
	if meta.IsDefined("access_token") {
		cfg.Transport.AccessToken = strings.TrimSpace(raw.AccessToken)
	}
	if meta.IsDefined("admins") {
		cfg.Verify.Admins = raw.Admins
	}

	if meta.IsDefined("default_threshold") {
		if raw.DefaultThreshold < 0 {
			return gatekeeper.ServiceConfig{}, fmt.Errorf("default_threshold must be >= 0, got %d", raw.DefaultThreshold)
		}
		cfg.Store.Defaults.Threshold = raw.DefaultThreshold
	}
	if meta.IsDefined("default_timeout") {
		if raw.DefaultTimeout <= 0 {
			return gatekeeper.ServiceConfig{}, fmt.Errorf("default_timeout must be > 0, got %d", raw.DefaultTimeout)
		}
		cfg.Store.Defaults.TimeoutSeconds = raw.DefaultTimeout
	}
	if meta.IsDefined("data_dir") {
		cfg.Store.Dir = strings.TrimSpace(raw.DataDir)
	}

	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("status_token") {
		cfg.StatusToken = strings.TrimSpace(raw.StatusToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("notify_on_failed_kick") {
		cfg.Verify.NotifyOnFailedKick = raw.NotifyOnFailedKick
	}
	if meta.IsDefined("command_keyword") {
		if kw := strings.TrimSpace(raw.CommandKeyword); kw != "" {
			keywords := gatekeeper.DefaultCommandKeywords()
			keywords[0] = kw
			cfg.Verify.CommandKeywords = keywords
		}
	}
	if meta.IsDefined("max_connect_failures") {
		cfg.Transport.MaxConsecutiveFailures = raw.MaxConnectFailures
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"heartbeat", raw.Heartbeat, &cfg.HeartbeatInterval},
		{"pacing_min", raw.PacingMin, &cfg.RPC.PacingMin},
		{"pacing_max", raw.PacingMax, &cfg.RPC.PacingMax},
		{"reconnect_delay", raw.ReconnectDelay, &cfg.Transport.Backoff.InitialDelay},
		{"connect_timeout", raw.ConnectTimeout, &cfg.Transport.ConnectTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return gatekeeper.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if cfg.RPC.PacingMax < cfg.RPC.PacingMin {
		return gatekeeper.ServiceConfig{}, fmt.Errorf("pacing_max %s is below pacing_min %s", cfg.RPC.PacingMax, cfg.RPC.PacingMin)
	}

	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
