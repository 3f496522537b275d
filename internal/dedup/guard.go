// Package dedup implements the request deduplication guard.
//
// The chat entry point has no transaction boundary around "read session,
// extract, persist", so overlapping requests for the same logical user turn
// (double-click, retry-on-timeout, accidental recursion) could double-submit.
// The guard substitutes coarse idempotency: identical requests within a short
// window get the cached reply, a session being processed short-circuits to a
// "please wait" status, and a hard call ceiling breaks pathological loops.
//
// The guard is an injected object rather than package-level state so it is
// testable and can later be backed by a shared cache in a multi-process
// deployment.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/CampusKit/enquirybot/internal/models"
)

// Guard defaults.
const (
	// DefaultWindow is how long a request fingerprint and its cached reply
	// stay valid. Inactivity beyond the window starts a new request cycle.
	DefaultWindow = 30 * time.Second
	// MaxCallsPerWindow is the hard ceiling on processing calls for one
	// session within a window. Exceeding it resets the guard and forces a
	// safe terminal reply.
	MaxCallsPerWindow = 2
)

// Status is the admission decision for one processing call.
type Status int

const (
	// StatusProceed admits the call for processing.
	StatusProceed Status = iota
	// StatusBusy means the session is already being processed.
	StatusBusy
	// StatusCeiling means the call ceiling was exceeded and guard state was reset.
	StatusCeiling
)

// callWindow tracks processing-call counts for one request fingerprint.
type callWindow struct {
	count int
	start time.Time
}

// pruneThreshold is the map size above which Begin sweeps expired windows.
const pruneThreshold = 128

// Guard fingerprints incoming requests and caps duplicate reprocessing.
type Guard struct {
	mu         sync.Mutex
	cache      *bigcache.BigCache
	window     time.Duration
	processing map[string]bool
	calls      map[string]*callWindow
	now        func() time.Time // injectable for tests
}

// Opts holds configuration options for the guard.
type Opts struct {
	Window time.Duration
}

// Option defines a configuration option for the guard.
type Option func(*Opts)

// WithWindow overrides the deduplication window.
func WithWindow(w time.Duration) Option {
	return func(o *Opts) { o.Window = w }
}

// NewGuard creates a guard with a bigcache-backed reply cache whose entries
// expire with the window.
func NewGuard(opts ...Option) (*Guard, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(cfg.Window))
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup reply cache: %w", err)
	}
	return &Guard{
		cache:      cache,
		window:     cfg.Window,
		processing: make(map[string]bool),
		calls:      make(map[string]*callWindow),
		now:        time.Now,
	}, nil
}

// Fingerprint identifies one logical user turn. The window start is part of
// the hash so the same message becomes a fresh request in the next cycle.
func (g *Guard) Fingerprint(message, action, sessionID string) string {
	windowStart := g.now().Truncate(g.window).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", message, action, sessionID, windowStart)))
	return hex.EncodeToString(sum[:])
}

// CachedReply returns the reply previously stored for a fingerprint, if any.
func (g *Guard) CachedReply(fingerprint string) (models.ChatReply, bool) {
	data, err := g.cache.Get(fingerprint)
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			slog.Warn("Guard.CachedReply: cache read failed", "error", err)
		}
		return models.ChatReply{}, false
	}
	var reply models.ChatReply
	if err := json.Unmarshal(data, &reply); err != nil {
		slog.Warn("Guard.CachedReply: cached reply corrupted", "error", err)
		return models.ChatReply{}, false
	}
	slog.Debug("Guard.CachedReply: returning cached reply", "fingerprint", fingerprint[:8])
	return reply, true
}

// StoreReply caches the reply for a fingerprint for the rest of the window.
func (g *Guard) StoreReply(fingerprint string, reply models.ChatReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Warn("Guard.StoreReply: failed to encode reply", "error", err)
		return
	}
	if err := g.cache.Set(fingerprint, data); err != nil {
		slog.Warn("Guard.StoreReply: cache write failed", "error", err)
	}
}

// Begin admits or rejects a processing call for one logical turn. The call
// counter is keyed by fingerprint, not session, so distinct consecutive
// messages never trip the ceiling; only reprocessing of the same turn does.
// When the status is StatusProceed the caller must invoke the returned
// release function when processing finishes, normally via defer, so a panic
// or early return can never permanently wedge the session.
func (g *Guard) Begin(sessionID, fingerprint string) (release func(), status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if len(g.calls) > pruneThreshold {
		for k, cw := range g.calls {
			if now.Sub(cw.start) > g.window {
				delete(g.calls, k)
			}
		}
	}
	w := g.calls[fingerprint]
	if w == nil || now.Sub(w.start) > g.window {
		w = &callWindow{start: now}
		g.calls[fingerprint] = w
	}

	if g.processing[sessionID] {
		slog.Debug("Guard.Begin: session already processing", "session_id", sessionID)
		return func() {}, StatusBusy
	}

	w.count++
	if w.count > MaxCallsPerWindow {
		// Pathological loop: reset everything for this turn so the next
		// genuine request starts clean. Logged loudly for operator visibility.
		slog.Error("Guard.Begin: call ceiling exceeded, resetting guard state", "session_id", sessionID, "count", w.count)
		delete(g.calls, fingerprint)
		delete(g.processing, sessionID)
		return func() {}, StatusCeiling
	}

	g.processing[sessionID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.processing, sessionID)
		})
	}, StatusProceed
}
