// Package store provides storage backends for EnquiryBot.
//
// It includes an in-memory store for tests and small deployments, plus
// SQLite and PostgreSQL backed stores for durable persistence of sessions,
// enquiries and CRM sync log entries.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CampusKit/enquirybot/internal/models"
)

// Store is the record-store contract consumed by the flow engine and the
// CRM sync adapter. All queries are parameterized; callers never interpolate
// user input.
type Store interface {
	// Sessions
	GetSession(sessionID string) (*models.Session, error)
	// SaveSession upserts a session. Collected fields are merged key-by-key
	// into any existing row, so a concurrent save cannot drop fields it did
	// not itself touch (last write wins per field, not per session).
	SaveSession(s models.Session) error
	// ListSessions returns all sessions ordered by started_at ascending.
	ListSessions() ([]models.Session, error)
	DeleteSession(sessionID string) error
	CountSessions() (int, error)

	// Enquiries
	// AddEnquiry inserts a new enquiry. Returns models.ErrEnquiryExists when
	// a row for the same session_id is already present.
	AddEnquiry(e models.Enquiry) (int64, error)
	GetEnquiryBySession(sessionID string) (*models.Enquiry, error)
	GetEnquiryByNumber(enquiryNumber string) (*models.Enquiry, error)
	UpdateEnquirySync(enquiryNumber string, status models.SyncStatus, mcbEnquiryID, mcbQueryCode string) error
	ListEnquiries(limit, offset int) ([]models.Enquiry, error)

	// Sync log
	AddSyncLog(entry models.SyncLogEntry) (int64, error)
	GetSyncLog(id int64) (*models.SyncLogEntry, error)
	ListSyncLogsByEnquiry(enquiryNumber string) ([]models.SyncLogEntry, error)
	IncrementSyncLogRetry(id int64) error

	Close() error
}

// DefaultListLimit bounds paginated listings when the caller passes no limit.
const DefaultListLimit = 50

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a mutex-guarded in-memory Store, used in tests and as a
// fallback when no DSN is configured.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]models.Session
	enquiries []models.Enquiry
	syncLogs  []models.SyncLogEntry
	nextID    int64
	nextLogID int64
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]models.Session),
		nextID:    1,
		nextLogID: 1,
	}
}

func (s *InMemoryStore) GetSession(sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := sess
	copied.CollectedFields = copyFields(sess.CollectedFields)
	return &copied, nil
}

func (s *InMemoryStore) SaveSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sess.SessionID]
	if ok {
		merged := copyFields(existing.CollectedFields)
		for k, v := range sess.CollectedFields {
			merged[k] = v
		}
		sess.CollectedFields = merged
	} else {
		sess.CollectedFields = copyFields(sess.CollectedFields)
	}
	s.sessions[sess.SessionID] = sess
	return nil
}

func (s *InMemoryStore) ListSessions() ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sess.CollectedFields = copyFields(sess.CollectedFields)
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *InMemoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *InMemoryStore) CountSessions() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

func (s *InMemoryStore) AddEnquiry(e models.Enquiry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.enquiries {
		if existing.SessionID == e.SessionID {
			return 0, models.ErrEnquiryExists
		}
	}
	e.ID = s.nextID
	s.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.enquiries = append(s.enquiries, e)
	return e.ID, nil
}

func (s *InMemoryStore) GetEnquiryBySession(sessionID string) (*models.Enquiry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.enquiries {
		if s.enquiries[i].SessionID == sessionID {
			e := s.enquiries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetEnquiryByNumber(enquiryNumber string) (*models.Enquiry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.enquiries {
		if s.enquiries[i].EnquiryNumber == enquiryNumber {
			e := s.enquiries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) UpdateEnquirySync(enquiryNumber string, status models.SyncStatus, mcbEnquiryID, mcbQueryCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.enquiries {
		if s.enquiries[i].EnquiryNumber == enquiryNumber {
			s.enquiries[i].MCBSyncStatus = status
			if mcbEnquiryID != "" {
				s.enquiries[i].MCBEnquiryID = mcbEnquiryID
			}
			if mcbQueryCode != "" {
				s.enquiries[i].MCBQueryCode = mcbQueryCode
			}
			return nil
		}
	}
	return models.ErrEnquiryNotFound
}

func (s *InMemoryStore) ListEnquiries(limit, offset int) ([]models.Enquiry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset >= len(s.enquiries) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(s.enquiries) {
		end = len(s.enquiries)
	}
	out := make([]models.Enquiry, end-offset)
	copy(out, s.enquiries[offset:end])
	return out, nil
}

func (s *InMemoryStore) AddSyncLog(entry models.SyncLogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.nextLogID
	s.nextLogID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.syncLogs = append(s.syncLogs, entry)
	return entry.ID, nil
}

func (s *InMemoryStore) GetSyncLog(id int64) (*models.SyncLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.syncLogs {
		if s.syncLogs[i].ID == id {
			e := s.syncLogs[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListSyncLogsByEnquiry(enquiryNumber string) ([]models.SyncLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SyncLogEntry
	for i := range s.syncLogs {
		if s.syncLogs[i].EnquiryNumber == enquiryNumber {
			out = append(out, s.syncLogs[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) IncrementSyncLogRetry(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.syncLogs {
		if s.syncLogs[i].ID == id {
			s.syncLogs[i].RetryCount++
			return nil
		}
	}
	return models.ErrSyncLogNotFound
}

func (s *InMemoryStore) Close() error { return nil }

func copyFields(in map[models.FieldKey]string) map[models.FieldKey]string {
	out := make(map[models.FieldKey]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
