package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/CampusKit/enquirybot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// sessionColumns is the column order every session query must select.
const sessionColumns = `session_id, flow_type, step_name, collected_fields, status, retry_count, enquiry_number, started_at, last_activity`

// scanSession scans a Session from a row selected with sessionColumns.
func scanSession(row rowScanner) (models.Session, error) {
	var s models.Session
	var fieldsJSON string
	var enquiryNumber sql.NullString
	err := row.Scan(
		&s.SessionID, &s.FlowType, &s.StepName, &fieldsJSON, &s.Status,
		&s.RetryCount, &enquiryNumber, &s.StartedAt, &s.LastActivity,
	)
	if err != nil {
		return s, err
	}
	s.EnquiryNumber = enquiryNumber.String
	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &s.CollectedFields); err != nil {
			return s, fmt.Errorf("failed to decode collected fields for session %s: %w", s.SessionID, err)
		}
	}
	return s, nil
}

// marshalFields encodes a session's collected fields for storage.
func marshalFields(fields map[models.FieldKey]string) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode collected fields: %w", err)
	}
	return string(data), nil
}

// mergeFieldsJSON merges the fields of an incoming session into the stored
// JSON, key by key. Stored keys absent from the incoming map are preserved.
func mergeFieldsJSON(storedJSON string, incoming map[models.FieldKey]string) (string, error) {
	merged := make(map[models.FieldKey]string)
	if storedJSON != "" {
		if err := json.Unmarshal([]byte(storedJSON), &merged); err != nil {
			return "", fmt.Errorf("failed to decode stored collected fields: %w", err)
		}
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return marshalFields(merged)
}

// enquiryColumns is the column order every enquiry query must select.
const enquiryColumns = `id, enquiry_number, session_id, flow_type, source,
	student_name, parent_name, email, phone, grade, board, date_of_birth, address,
	utm_source, utm_medium, utm_campaign, click_id, ip_address, user_agent,
	mcb_sync_status, mcb_enquiry_id, mcb_query_code, created_at`

// scanEnquiry scans an Enquiry from a row selected with enquiryColumns.
func scanEnquiry(row rowScanner) (models.Enquiry, error) {
	var e models.Enquiry
	var studentName, parentName, email, phone, grade, board, dob, address sql.NullString
	var utmSource, utmMedium, utmCampaign, clickID, ipAddress, userAgent sql.NullString
	var mcbEnquiryID, mcbQueryCode sql.NullString
	err := row.Scan(
		&e.ID, &e.EnquiryNumber, &e.SessionID, &e.FlowType, &e.Source,
		&studentName, &parentName, &email, &phone, &grade, &board, &dob, &address,
		&utmSource, &utmMedium, &utmCampaign, &clickID, &ipAddress, &userAgent,
		&e.MCBSyncStatus, &mcbEnquiryID, &mcbQueryCode, &e.CreatedAt,
	)
	if err != nil {
		return e, err
	}
	e.StudentName = studentName.String
	e.ParentName = parentName.String
	e.Email = email.String
	e.Phone = phone.String
	e.Grade = grade.String
	e.Board = board.String
	e.DateOfBirth = dob.String
	e.Address = address.String
	e.UTMSource = utmSource.String
	e.UTMMedium = utmMedium.String
	e.UTMCampaign = utmCampaign.String
	e.ClickID = clickID.String
	e.IPAddress = ipAddress.String
	e.UserAgent = userAgent.String
	e.MCBEnquiryID = mcbEnquiryID.String
	e.MCBQueryCode = mcbQueryCode.String
	return e, nil
}

// syncLogColumns is the column order every sync log query must select.
const syncLogColumns = `id, enquiry_number, request_body, response_body, success, error_message, retry_count, created_at`

// scanSyncLog scans a SyncLogEntry from a row selected with syncLogColumns.
func scanSyncLog(row rowScanner) (models.SyncLogEntry, error) {
	var entry models.SyncLogEntry
	var responseBody, errorMessage sql.NullString
	err := row.Scan(
		&entry.ID, &entry.EnquiryNumber, &entry.RequestBody, &responseBody,
		&entry.Success, &errorMessage, &entry.RetryCount, &entry.CreatedAt,
	)
	if err != nil {
		return entry, err
	}
	entry.ResponseBody = responseBody.String
	entry.ErrorMessage = errorMessage.String
	return entry, nil
}
