// Package models defines CRM synchronization structures for EnquiryBot.
package models

import "time"

// SyncStatus represents the MCB synchronization state of an enquiry.
type SyncStatus string

// Sync status constants.
const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// Sync outcome status strings reported by the CRM adapter.
const (
	SyncOutcomeDisabled  = "disabled"
	SyncOutcomeSuccess   = "success"
	SyncOutcomeTransport = "transport_error"
	SyncOutcomeHTTP      = "http_error"
	SyncOutcomeRejected  = "crm_rejected"
)

// SyncResult is the outcome of one CRM sync invocation.
type SyncResult struct {
	Success      bool   `json:"success"`
	Status       string `json:"status"`
	MCBEnquiryID string `json:"mcb_enquiry_id,omitempty"`
	MCBQueryCode string `json:"mcb_query_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// SyncLogEntry records a single CRM sync attempt. Entries are append-only;
// only RetryCount is ever updated in place, on administrative retry.
type SyncLogEntry struct {
	ID            int64     `json:"id,omitempty"`
	EnquiryNumber string    `json:"enquiry_number"`
	RequestBody   string    `json:"request_body"`
	ResponseBody  string    `json:"response_body,omitempty"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	RetryCount    int       `json:"retry_count"`
	CreatedAt     time.Time `json:"created_at"`
}
