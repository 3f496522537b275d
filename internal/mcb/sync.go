package mcb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CampusKit/enquirybot/internal/models"
	"github.com/CampusKit/enquirybot/internal/settings"
	"github.com/CampusKit/enquirybot/internal/store"
)

// Retry defaults for transport-level failures within one Sync call.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 2 * time.Second
)

// Syncer pushes persisted enquiries into MCB and keeps the audit trail.
// Sync never surfaces errors to the conversation layer; every outcome is a
// SyncResult plus a sync log entry.
type Syncer struct {
	store    store.Store
	api      API
	settings settings.Provider
	sleep    func(time.Duration) // injectable for tests
}

// NewSyncer creates a Syncer over a store, an MCB transport and a settings
// provider. Enablement, credentials and retry tuning are read from settings
// per call, so they can change without a restart.
func NewSyncer(st store.Store, api API, provider settings.Provider) *Syncer {
	return &Syncer{store: st, api: api, settings: provider, sleep: time.Sleep}
}

// BuildPayload maps an enquiry onto the MCB field schema. The remarks line
// leads with the enquiry number so the CRM record can always be traced back
// here even without a shared key.
func (s *Syncer) BuildPayload(enquiry models.Enquiry) Payload {
	branchID := settings.String(s.settings, settings.KeyMCBBranchID, "")
	year := settings.String(s.settings, settings.KeyMCBAcademicYear, "")

	remarks := fmt.Sprintf("[%s] %s enquiry via chatbot", enquiry.EnquiryNumber, enquiry.FlowType)
	return Payload{
		StudentName:  enquiry.StudentName,
		ParentName:   enquiry.ParentName,
		MobileNumber: enquiry.Phone,
		EmailID:      enquiry.Email,
		ClassID:      ClassID(enquiry.Grade, enquiry.Board),
		BoardID:      BoardID(enquiry.Board),
		AcademicYear: YearID(year),
		SourceID:     SourceID(enquiry.UTMSource, string(enquiry.Source)),
		BranchID:     branchID,
		DateOfBirth:  enquiry.DateOfBirth,
		Remarks:      remarks,
	}
}

// Sync pushes one enquiry to MCB. Transport failures are retried in place
// with a fixed backoff; HTTP error statuses and CRM-side rejections are not,
// those need a human or an administrative retry. Exactly one sync log entry
// is written per call, except when sync is disabled (no side effects then).
func (s *Syncer) Sync(ctx context.Context, enquiry models.Enquiry) models.SyncResult {
	if !settings.Bool(s.settings, settings.KeyMCBSyncEnabled, false) {
		slog.Debug("Syncer.Sync: sync disabled", "enquiry_number", enquiry.EnquiryNumber)
		return models.SyncResult{Success: false, Status: models.SyncOutcomeDisabled}
	}

	payload := s.BuildPayload(enquiry)
	requestBody, _ := json.Marshal(payload)

	attempts := settings.Int(s.settings, settings.KeyMCBRetryAttempts, DefaultRetryAttempts)
	if attempts < 1 {
		attempts = 1
	}
	backoff := settings.Duration(s.settings, settings.KeyMCBRetryBackoff, DefaultRetryBackoff)

	var (
		call    *CallResult
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		call, lastErr = s.api.Submit(ctx, payload)
		if lastErr == nil {
			break
		}
		slog.Warn("Syncer.Sync: transport failure", "error", lastErr,
			"enquiry_number", enquiry.EnquiryNumber, "attempt", attempt, "attempts", attempts)
		if attempt < attempts {
			s.sleep(backoff)
		}
	}

	result := s.interpret(call, lastErr)
	s.record(enquiry, string(requestBody), call, result)
	return result
}

// interpret classifies one round-trip outcome into a SyncResult.
func (s *Syncer) interpret(call *CallResult, transportErr error) models.SyncResult {
	if transportErr != nil {
		return models.SyncResult{
			Success:      false,
			Status:       models.SyncOutcomeTransport,
			ErrorMessage: fmt.Sprintf("could not reach MCB: %v", transportErr),
		}
	}
	if call.StatusCode < http.StatusOK || call.StatusCode >= http.StatusMultipleChoices {
		return models.SyncResult{
			Success:      false,
			Status:       models.SyncOutcomeHTTP,
			ErrorMessage: fmt.Sprintf("MCB returned HTTP %d", call.StatusCode),
		}
	}
	resp, ok := ParseResponse(call.Body)
	if !ok {
		msg := resp.Message
		if msg == "" {
			msg = "MCB did not acknowledge the enquiry"
		}
		return models.SyncResult{
			Success:      false,
			Status:       models.SyncOutcomeRejected,
			ErrorMessage: msg,
		}
	}
	return models.SyncResult{
		Success:      true,
		Status:       models.SyncOutcomeSuccess,
		MCBEnquiryID: resp.EnquiryID,
		MCBQueryCode: resp.QueryCode,
	}
}

// record writes the audit trail for one Sync call: the sync log entry plus
// the enquiry's sync status and captured CRM identifiers.
func (s *Syncer) record(enquiry models.Enquiry, requestBody string, call *CallResult, result models.SyncResult) {
	responseBody := ""
	if call != nil {
		responseBody = call.Body
	}
	entry := models.SyncLogEntry{
		EnquiryNumber: enquiry.EnquiryNumber,
		RequestBody:   requestBody,
		ResponseBody:  responseBody,
		Success:       result.Success,
		ErrorMessage:  result.ErrorMessage,
		CreatedAt:     time.Now(),
	}
	if _, err := s.store.AddSyncLog(entry); err != nil {
		slog.Error("Syncer.record: failed to write sync log", "error", err, "enquiry_number", enquiry.EnquiryNumber)
	}

	status := models.SyncStatusFailed
	if result.Success {
		status = models.SyncStatusSynced
	}
	if err := s.store.UpdateEnquirySync(enquiry.EnquiryNumber, status, result.MCBEnquiryID, result.MCBQueryCode); err != nil {
		slog.Error("Syncer.record: failed to update enquiry sync state", "error", err, "enquiry_number", enquiry.EnquiryNumber)
	}

	if result.Success {
		slog.Info("Syncer.Sync: enquiry synced", "enquiry_number", enquiry.EnquiryNumber,
			"mcb_enquiry_id", result.MCBEnquiryID, "mcb_query_code", result.MCBQueryCode)
	} else {
		slog.Warn("Syncer.Sync: sync failed", "enquiry_number", enquiry.EnquiryNumber,
			"status", result.Status, "error_message", result.ErrorMessage)
	}
}

// Retry re-runs sync for the enquiry referenced by a previously logged
// attempt and increments that entry's retry counter. This is the
// administrative retry path; it is distinct from the in-call transport
// retry loop and always starts a fresh Sync.
func (s *Syncer) Retry(ctx context.Context, logID int64) (models.SyncResult, error) {
	entry, err := s.store.GetSyncLog(logID)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("failed to load sync log %d: %w", logID, err)
	}
	if entry == nil {
		return models.SyncResult{}, models.ErrSyncLogNotFound
	}
	enquiry, err := s.store.GetEnquiryByNumber(entry.EnquiryNumber)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("failed to load enquiry %s: %w", entry.EnquiryNumber, err)
	}
	if enquiry == nil {
		return models.SyncResult{}, models.ErrEnquiryNotFound
	}

	if err := s.store.IncrementSyncLogRetry(logID); err != nil {
		slog.Warn("Syncer.Retry: failed to increment retry count", "error", err, "log_id", logID)
	}
	slog.Info("Syncer.Retry: administrative retry", "log_id", logID, "enquiry_number", entry.EnquiryNumber)
	return s.Sync(ctx, *enquiry), nil
}

// SyncByNumber runs Sync for an enquiry looked up by its number. The HTTP
// admin endpoint uses this when no prior sync log exists yet.
func (s *Syncer) SyncByNumber(ctx context.Context, enquiryNumber string) (models.SyncResult, error) {
	enquiry, err := s.store.GetEnquiryByNumber(enquiryNumber)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("failed to load enquiry %s: %w", enquiryNumber, err)
	}
	if enquiry == nil {
		return models.SyncResult{}, models.ErrEnquiryNotFound
	}
	return s.Sync(ctx, *enquiry), nil
}
