// Package settings provides a read-only key-value configuration view.
//
// Components read tuning parameters and feature flags through a Provider
// rather than touching the environment directly, so tests can inject values
// and a future deployment can swap in a database-backed settings table.
// Nothing in the core ever writes settings.
package settings

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/CampusKit/enquirybot/internal/util"
)

// Setting keys read by the core components.
const (
	KeyMCBSyncEnabled   = "MCB_SYNC_ENABLED"
	KeyMCBAPIURL        = "MCB_API_URL"
	KeyMCBAPIKey        = "MCB_API_KEY"
	KeyMCBBranchID      = "MCB_BRANCH_ID"
	KeyMCBAcademicYear  = "MCB_ACADEMIC_YEAR"
	KeyMCBTimeout       = "MCB_TIMEOUT"
	KeyMCBRetryAttempts = "MCB_RETRY_ATTEMPTS"
	KeyMCBRetryBackoff  = "MCB_RETRY_BACKOFF"
	KeySessionTTL       = "SESSION_TTL"
	KeySessionCap       = "SESSION_CAP"
	KeyNotifyEmail      = "NOTIFY_EMAIL_RECIPIENT"
)

// Provider is the read-only settings contract.
type Provider interface {
	// Get returns the raw value for key and whether it was set.
	Get(key string) (string, bool)
}

// Env reads settings from process environment variables.
type Env struct{}

// Compile-time check that Env implements Provider.
var _ Provider = Env{}

func (Env) Get(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	return val, ok
}

// Static is a fixed in-memory Provider for tests.
type Static map[string]string

// Compile-time check that Static implements Provider.
var _ Provider = Static{}

func (s Static) Get(key string) (string, bool) {
	val, ok := s[key]
	return val, ok
}

// String returns the setting for key, or def when unset or empty.
func String(p Provider, key, def string) string {
	if val, ok := p.Get(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return def
}

// Bool parses a boolean setting. Accepts true/1/yes/on and false/0/no/off
// (case-insensitive). Invalid values return def.
func Bool(p Provider, key string, def bool) bool {
	val, ok := p.Get(key)
	if !ok || val == "" {
		return def
	}
	b, ok := util.ParseBool(val)
	if !ok {
		slog.Warn("settings.Bool: invalid boolean value, using default", "key", key, "value", val, "default", def)
		return def
	}
	return b
}

// Int parses an integer setting, returning def on absence or parse failure.
func Int(p Provider, key string, def int) int {
	val, ok := p.Get(key)
	if !ok || val == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		slog.Warn("settings.Int: invalid integer value, using default", "key", key, "value", val, "default", def)
		return def
	}
	return n
}

// Duration parses a duration setting ("65s", "2m"), returning def on absence
// or parse failure.
func Duration(p Provider, key string, def time.Duration) time.Duration {
	val, ok := p.Get(key)
	if !ok || val == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		slog.Warn("settings.Duration: invalid duration value, using default", "key", key, "value", val, "default", def)
		return def
	}
	return d
}
