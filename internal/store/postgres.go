// Package store provides storage backends for EnquiryBot.
//
// This file implements a PostgreSQL-backed store for sessions, enquiries and
// sync log entries.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/lib/pq"

	"github.com/CampusKit/enquirybot/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSession(sessionID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func (s *PostgresStore) SaveSession(sess models.Session) error {
	var storedJSON string
	err := s.db.QueryRow(`SELECT collected_fields FROM sessions WHERE session_id = $1`, sess.SessionID).Scan(&storedJSON)
	if err != nil && err != sql.ErrNoRows {
		slog.Error("PostgresStore SaveSession read failed", "error", err, "session_id", sess.SessionID)
		return fmt.Errorf("failed to read session %s: %w", sess.SessionID, err)
	}
	fieldsJSON, err := mergeFieldsJSON(storedJSON, sess.CollectedFields)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO sessions (session_id, flow_type, step_name, collected_fields, status, retry_count, enquiry_number, started_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			flow_type = EXCLUDED.flow_type,
			step_name = EXCLUDED.step_name,
			collected_fields = EXCLUDED.collected_fields,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			enquiry_number = EXCLUDED.enquiry_number,
			last_activity = EXCLUDED.last_activity`,
		sess.SessionID, sess.FlowType, sess.StepName, fieldsJSON, sess.Status,
		sess.RetryCount, nilIfEmpty(sess.EnquiryNumber), sess.StartedAt, sess.LastActivity,
	)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "session_id", sess.SessionID)
		return fmt.Errorf("failed to save session %s: %w", sess.SessionID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "session_id", sess.SessionID, "step", sess.StepName)
	return nil
}

func (s *PostgresStore) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) CountSessions() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) AddEnquiry(e models.Enquiry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRow(`INSERT INTO enquiries (enquiry_number, session_id, flow_type, source,
			student_name, parent_name, email, phone, grade, board, date_of_birth, address,
			utm_source, utm_medium, utm_campaign, click_id, ip_address, user_agent,
			mcb_sync_status, mcb_enquiry_id, mcb_query_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id`,
		e.EnquiryNumber, e.SessionID, e.FlowType, e.Source,
		nilIfEmpty(e.StudentName), nilIfEmpty(e.ParentName), nilIfEmpty(e.Email), nilIfEmpty(e.Phone),
		nilIfEmpty(e.Grade), nilIfEmpty(e.Board), nilIfEmpty(e.DateOfBirth), nilIfEmpty(e.Address),
		nilIfEmpty(e.UTMSource), nilIfEmpty(e.UTMMedium), nilIfEmpty(e.UTMCampaign), nilIfEmpty(e.ClickID),
		nilIfEmpty(e.IPAddress), nilIfEmpty(e.UserAgent),
		e.MCBSyncStatus, nilIfEmpty(e.MCBEnquiryID), nilIfEmpty(e.MCBQueryCode), e.CreatedAt,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return 0, models.ErrEnquiryExists
		}
		slog.Error("PostgresStore AddEnquiry failed", "error", err, "session_id", e.SessionID)
		return 0, fmt.Errorf("failed to insert enquiry for session %s: %w", e.SessionID, err)
	}
	slog.Debug("PostgresStore AddEnquiry succeeded", "enquiry_number", e.EnquiryNumber, "session_id", e.SessionID)
	return id, nil
}

func (s *PostgresStore) GetEnquiryBySession(sessionID string) (*models.Enquiry, error) {
	row := s.db.QueryRow(`SELECT `+enquiryColumns+` FROM enquiries WHERE session_id = $1`, sessionID)
	e, err := scanEnquiry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enquiry for session %s: %w", sessionID, err)
	}
	return &e, nil
}

func (s *PostgresStore) GetEnquiryByNumber(enquiryNumber string) (*models.Enquiry, error) {
	row := s.db.QueryRow(`SELECT `+enquiryColumns+` FROM enquiries WHERE enquiry_number = $1`, enquiryNumber)
	e, err := scanEnquiry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enquiry %s: %w", enquiryNumber, err)
	}
	return &e, nil
}

func (s *PostgresStore) UpdateEnquirySync(enquiryNumber string, status models.SyncStatus, mcbEnquiryID, mcbQueryCode string) error {
	res, err := s.db.Exec(`UPDATE enquiries SET mcb_sync_status = $1,
			mcb_enquiry_id = COALESCE($2, mcb_enquiry_id),
			mcb_query_code = COALESCE($3, mcb_query_code)
		WHERE enquiry_number = $4`,
		status, nilIfEmpty(mcbEnquiryID), nilIfEmpty(mcbQueryCode), enquiryNumber,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateEnquirySync failed", "error", err, "enquiry_number", enquiryNumber)
		return fmt.Errorf("failed to update sync fields for enquiry %s: %w", enquiryNumber, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrEnquiryNotFound
	}
	return nil
}

func (s *PostgresStore) ListEnquiries(limit, offset int) ([]models.Enquiry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(`SELECT `+enquiryColumns+` FROM enquiries ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
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

func (s *PostgresStore) AddSyncLog(entry models.SyncLogEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRow(`INSERT INTO sync_logs (enquiry_number, request_body, response_body, success, error_message, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		entry.EnquiryNumber, entry.RequestBody, nilIfEmpty(entry.ResponseBody),
		entry.Success, nilIfEmpty(entry.ErrorMessage), entry.RetryCount, entry.CreatedAt,
	).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore AddSyncLog failed", "error", err, "enquiry_number", entry.EnquiryNumber)
		return 0, fmt.Errorf("failed to insert sync log for %s: %w", entry.EnquiryNumber, err)
	}
	return id, nil
}

func (s *PostgresStore) GetSyncLog(id int64) (*models.SyncLogEntry, error) {
	row := s.db.QueryRow(`SELECT `+syncLogColumns+` FROM sync_logs WHERE id = $1`, id)
	entry, err := scanSyncLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync log %d: %w", id, err)
	}
	return &entry, nil
}

func (s *PostgresStore) ListSyncLogsByEnquiry(enquiryNumber string) ([]models.SyncLogEntry, error) {
	rows, err := s.db.Query(`SELECT `+syncLogColumns+` FROM sync_logs WHERE enquiry_number = $1 ORDER BY created_at ASC`, enquiryNumber)
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

func (s *PostgresStore) IncrementSyncLogRetry(id int64) error {
	res, err := s.db.Exec(`UPDATE sync_logs SET retry_count = retry_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment retry count for sync log %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrSyncLogNotFound
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
