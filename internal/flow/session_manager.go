// filepath: internal/flow/session_manager.go
// Package flow provides concrete implementations of session state management.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CampusKit/enquirybot/internal/models"
	"github.com/CampusKit/enquirybot/internal/store"
)

// Session lifecycle defaults.
const (
	// DefaultSessionTTL expires a session after one hour without activity.
	DefaultSessionTTL = time.Hour
	// DefaultSessionCap bounds total stored sessions; the sweep evicts
	// oldest-first beyond it.
	DefaultSessionCap = 100
)

// SessionManager implements session storage semantics on top of a Store.
type SessionManager struct {
	store store.Store
	ttl   time.Duration
	cap   int
	now   func() time.Time // injectable for tests
}

// SessionManagerOpts holds configuration options for the session manager.
type SessionManagerOpts struct {
	TTL time.Duration
	Cap int
}

// SessionManagerOption defines a configuration option for the session manager.
type SessionManagerOption func(*SessionManagerOpts)

// WithSessionTTL overrides the session inactivity TTL.
func WithSessionTTL(ttl time.Duration) SessionManagerOption {
	return func(o *SessionManagerOpts) { o.TTL = ttl }
}

// WithSessionCap overrides the stored-session capacity bound.
func WithSessionCap(cap int) SessionManagerOption {
	return func(o *SessionManagerOpts) { o.Cap = cap }
}

// NewSessionManager creates a SessionManager backed by a Store.
func NewSessionManager(st store.Store, opts ...SessionManagerOption) *SessionManager {
	var cfg SessionManagerOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultSessionCap
	}
	slog.Debug("Creating SessionManager", "ttl", cfg.TTL, "cap", cfg.Cap)
	return &SessionManager{store: st, ttl: cfg.TTL, cap: cfg.Cap, now: time.Now}
}

// IsExpired reports whether a session has been inactive beyond the TTL.
func (sm *SessionManager) IsExpired(s *models.Session) bool {
	return sm.now().Sub(s.LastActivity) > sm.ttl
}

// GetOrCreate returns the session for sessionID, creating one when absent.
// An empty sessionID gets a generated identifier. A session found expired,
// or found running a different flow than the one requested, is reset: the
// identifier survives but the conversation starts over. created is true when
// the caller is starting a fresh conversation.
func (sm *SessionManager) GetOrCreate(ctx context.Context, sessionID string, flowType models.FlowType) (*models.Session, bool, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
		slog.Debug("SessionManager.GetOrCreate: generated session id", "session_id", sessionID)
	}

	existing, err := sm.store.GetSession(sessionID)
	if err != nil {
		slog.Error("SessionManager.GetOrCreate: store read failed", "error", err, "session_id", sessionID)
		return nil, false, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if existing != nil && !sm.IsExpired(existing) && existing.FlowType == flowType {
		return existing, false, nil
	}
	if existing != nil {
		// SaveSession merges collected fields into the stored row and never
		// removes keys, so a restarted conversation must replace the row
		// outright or the old conversation's answers would leak into it.
		if err := sm.store.DeleteSession(sessionID); err != nil {
			slog.Error("SessionManager.GetOrCreate: failed to clear stale session", "error", err, "session_id", sessionID)
			return nil, false, fmt.Errorf("failed to reset session %s: %w", sessionID, err)
		}
		slog.Debug("SessionManager.GetOrCreate: starting conversation over",
			"session_id", sessionID, "expired", sm.IsExpired(existing), "previous_flow", existing.FlowType)
	}

	def, ok := GetDefinition(flowType)
	if !ok {
		return nil, false, models.ErrInvalidFlowType
	}
	now := sm.now()
	first, _ := def.NextMissingField(&models.Session{})
	fresh := &models.Session{
		SessionID:       sessionID,
		FlowType:        flowType,
		StepName:        models.StepName(first),
		CollectedFields: make(map[models.FieldKey]string),
		Status:          models.SessionStatusActive,
		StartedAt:       now,
		LastActivity:    now,
	}
	if err := sm.store.SaveSession(*fresh); err != nil {
		slog.Error("SessionManager.GetOrCreate: store create failed", "error", err, "session_id", sessionID)
		return nil, false, fmt.Errorf("failed to create session %s: %w", sessionID, err)
	}
	return fresh, true, nil
}

// Get returns the active session for sessionID, or nil when it does not
// exist or has expired. Unlike GetOrCreate it never writes.
func (sm *SessionManager) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	s, err := sm.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if s == nil || sm.IsExpired(s) {
		return nil, nil
	}
	return s, nil
}

// Update persists a mutated session, refreshing its activity timestamp.
func (sm *SessionManager) Update(ctx context.Context, s *models.Session) error {
	s.LastActivity = sm.now()
	if err := sm.store.SaveSession(*s); err != nil {
		slog.Error("SessionManager.Update: store save failed", "error", err, "session_id", s.SessionID)
		return fmt.Errorf("failed to update session %s: %w", s.SessionID, err)
	}
	return nil
}

// SweepExpired marks inactive sessions expired and enforces the capacity
// bound, evicting oldest-first by started_at. Expired and completed sessions
// are evicted before active ones. Returns the number of sessions deleted.
func (sm *SessionManager) SweepExpired(ctx context.Context) (int, error) {
	sessions, err := sm.store.ListSessions()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions for sweep: %w", err)
	}

	for i := range sessions {
		s := &sessions[i]
		if s.Status == models.SessionStatusActive && sm.IsExpired(s) {
			s.Status = models.SessionStatusExpired
			if err := sm.store.SaveSession(*s); err != nil {
				slog.Warn("SessionManager.SweepExpired: failed to mark expired", "error", err, "session_id", s.SessionID)
			}
		}
	}

	excess := len(sessions) - sm.cap
	if excess <= 0 {
		return 0, nil
	}

	deleted := 0
	evict := func(wantActive bool) {
		for i := range sessions {
			if deleted >= excess {
				return
			}
			s := &sessions[i]
			if s.SessionID == "" {
				continue // already evicted in this sweep
			}
			active := s.Status == models.SessionStatusActive && !sm.IsExpired(s)
			if active != wantActive {
				continue
			}
			if err := sm.store.DeleteSession(s.SessionID); err != nil {
				slog.Warn("SessionManager.SweepExpired: delete failed", "error", err, "session_id", s.SessionID)
				continue
			}
			s.SessionID = ""
			deleted++
		}
	}
	// ListSessions is ordered oldest-first; spend the budget on non-active
	// sessions before touching active ones.
	evict(false)
	evict(true)

	slog.Info("SessionManager.SweepExpired: sweep complete", "total", len(sessions), "deleted", deleted)
	return deleted, nil
}
