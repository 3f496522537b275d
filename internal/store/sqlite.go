// Package store provides storage backends for EnquiryBot.
//
// This file implements an SQLite-backed store for sessions, enquiries and
// sync log entries.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/mattn/go-sqlite3"

	"github.com/CampusKit/enquirybot/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSession(sessionID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) SaveSession(sess models.Session) error {
	// Read-merge-write on collected_fields so a concurrent save cannot drop
	// fields this save did not touch.
	var storedJSON string
	err := s.db.QueryRow(`SELECT collected_fields FROM sessions WHERE session_id = ?`, sess.SessionID).Scan(&storedJSON)
	if err != nil && err != sql.ErrNoRows {
		slog.Error("SQLiteStore SaveSession read failed", "error", err, "session_id", sess.SessionID)
		return fmt.Errorf("failed to read session %s: %w", sess.SessionID, err)
	}
	fieldsJSON, err := mergeFieldsJSON(storedJSON, sess.CollectedFields)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO sessions (session_id, flow_type, step_name, collected_fields, status, retry_count, enquiry_number, started_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			flow_type = excluded.flow_type,
			step_name = excluded.step_name,
			collected_fields = excluded.collected_fields,
			status = excluded.status,
			retry_count = excluded.retry_count,
			enquiry_number = excluded.enquiry_number,
			last_activity = excluded.last_activity`,
		sess.SessionID, sess.FlowType, sess.StepName, fieldsJSON, sess.Status,
		sess.RetryCount, nilIfEmpty(sess.EnquiryNumber), sess.StartedAt, sess.LastActivity,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "session_id", sess.SessionID)
		return fmt.Errorf("failed to save session %s: %w", sess.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "session_id", sess.SessionID, "step", sess.StepName)
	return nil
}

func (s *SQLiteStore) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at ASC`)
	if err != nil {
		slog.Error("SQLiteStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("SQLiteStore ListSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

func (s *SQLiteStore) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) CountSessions() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) AddEnquiry(e models.Enquiry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO enquiries (enquiry_number, session_id, flow_type, source,
			student_name, parent_name, email, phone, grade, board, date_of_birth, address,
			utm_source, utm_medium, utm_campaign, click_id, ip_address, user_agent,
			mcb_sync_status, mcb_enquiry_id, mcb_query_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EnquiryNumber, e.SessionID, e.FlowType, e.Source,
		nilIfEmpty(e.StudentName), nilIfEmpty(e.ParentName), nilIfEmpty(e.Email), nilIfEmpty(e.Phone),
		nilIfEmpty(e.Grade), nilIfEmpty(e.Board), nilIfEmpty(e.DateOfBirth), nilIfEmpty(e.Address),
		nilIfEmpty(e.UTMSource), nilIfEmpty(e.UTMMedium), nilIfEmpty(e.UTMCampaign), nilIfEmpty(e.ClickID),
		nilIfEmpty(e.IPAddress), nilIfEmpty(e.UserAgent),
		e.MCBSyncStatus, nilIfEmpty(e.MCBEnquiryID), nilIfEmpty(e.MCBQueryCode), e.CreatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, models.ErrEnquiryExists
		}
		slog.Error("SQLiteStore AddEnquiry failed", "error", err, "session_id", e.SessionID)
		return 0, fmt.Errorf("failed to insert enquiry for session %s: %w", e.SessionID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read enquiry insert id: %w", err)
	}
	slog.Debug("SQLiteStore AddEnquiry succeeded", "enquiry_number", e.EnquiryNumber, "session_id", e.SessionID)
	return id, nil
}

func (s *SQLiteStore) GetEnquiryBySession(sessionID string) (*models.Enquiry, error) {
	row := s.db.QueryRow(`SELECT `+enquiryColumns+` FROM enquiries WHERE session_id = ?`, sessionID)
	e, err := scanEnquiry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enquiry for session %s: %w", sessionID, err)
	}
	return &e, nil
}

func (s *SQLiteStore) GetEnquiryByNumber(enquiryNumber string) (*models.Enquiry, error) {
	row := s.db.QueryRow(`SELECT `+enquiryColumns+` FROM enquiries WHERE enquiry_number = ?`, enquiryNumber)
	e, err := scanEnquiry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enquiry %s: %w", enquiryNumber, err)
	}
	return &e, nil
}

func (s *SQLiteStore) UpdateEnquirySync(enquiryNumber string, status models.SyncStatus, mcbEnquiryID, mcbQueryCode string) error {
	res, err := s.db.Exec(`UPDATE enquiries SET mcb_sync_status = ?,
			mcb_enquiry_id = COALESCE(?, mcb_enquiry_id),
			mcb_query_code = COALESCE(?, mcb_query_code)
		WHERE enquiry_number = ?`,
		status, nilIfEmpty(mcbEnquiryID), nilIfEmpty(mcbQueryCode), enquiryNumber,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateEnquirySync failed", "error", err, "enquiry_number", enquiryNumber)
		return fmt.Errorf("failed to update sync fields for enquiry %s: %w", enquiryNumber, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrEnquiryNotFound
	}
	return nil
}

func (s *SQLiteStore) ListEnquiries(limit, offset int) ([]models.Enquiry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(`SELECT `+enquiryColumns+` FROM enquiries ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query enquiries: %w", err)
	}
	defer rows.Close()

	var enquiries []models.Enquiry
	for rows.Next() {
		e, err := scanEnquiry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enquiry row: %w", err)
		}
		enquiries = append(enquiries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enquiry rows: %w", err)
	}
	return enquiries, nil
}

func (s *SQLiteStore) AddSyncLog(entry models.SyncLogEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO sync_logs (enquiry_number, request_body, response_body, success, error_message, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.EnquiryNumber, entry.RequestBody, nilIfEmpty(entry.ResponseBody),
		entry.Success, nilIfEmpty(entry.ErrorMessage), entry.RetryCount, entry.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddSyncLog failed", "error", err, "enquiry_number", entry.EnquiryNumber)
		return 0, fmt.Errorf("failed to insert sync log for %s: %w", entry.EnquiryNumber, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync log insert id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetSyncLog(id int64) (*models.SyncLogEntry, error) {
	row := s.db.QueryRow(`SELECT `+syncLogColumns+` FROM sync_logs WHERE id = ?`, id)
	entry, err := scanSyncLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync log %d: %w", id, err)
	}
	return &entry, nil
}

func (s *SQLiteStore) ListSyncLogsByEnquiry(enquiryNumber string) ([]models.SyncLogEntry, error) {
	rows, err := s.db.Query(`SELECT `+syncLogColumns+` FROM sync_logs WHERE enquiry_number = ? ORDER BY created_at ASC`, enquiryNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncLogEntry
	for rows.Next() {
		entry, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync log rows: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) IncrementSyncLogRetry(id int64) error {
	res, err := s.db.Exec(`UPDATE sync_logs SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment retry count for sync log %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrSyncLogNotFound
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
