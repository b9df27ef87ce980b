package httpapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultAllowedOrigin   = "http://localhost:8000"
	defaultSessionIssuer   = "tauth"
	defaultSessionCookie   = "app_session"
	defaultRequestTimeout  = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultMinorUnits      = 2
	maxMinorUnits          = 8
	defaultEntryListLimit  = 20
)

// Config aggregates runtime settings for the HTTP facade.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	MinorUnits        int32
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
}

// Validate fills defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MinorUnits == 0 {
		cfg.MinorUnits = defaultMinorUnits
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.MinorUnits < 0 || cfg.MinorUnits > maxMinorUnits {
		return fmt.Errorf("minor units must be between 0 and %d, got %d", maxMinorUnits, cfg.MinorUnits)
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("session signing key is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
