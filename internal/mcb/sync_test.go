package mcb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CampusKit/enquirybot/internal/models"
	"github.com/CampusKit/enquirybot/internal/settings"
	"github.com/CampusKit/enquirybot/internal/store"
)

func enabledSettings(extra map[string]string) settings.Static {
	s := settings.Static{
		settings.KeyMCBSyncEnabled:  "true",
		settings.KeyMCBBranchID:     "BR-01",
		settings.KeyMCBAcademicYear: "2026-27",
		settings.KeyMCBRetryBackoff: "0s",
	}
	for k, v := range extra {
		s[k] = v
	}
	return s
}

func seedEnquiry(t *testing.T, st store.Store) models.Enquiry {
	t.Helper()
	enquiry := models.Enquiry{
		EnquiryNumber: "ENQ2026ABC123",
		SessionID:     "sess-sync",
		FlowType:      models.FlowTypeAdmission,
		Source:        models.SourceChatbot,
		StudentName:   "Rahul Verma",
		ParentName:    "Sunita Verma",
		Email:         "sunita@example.com",
		Phone:         "+919876543210",
		Grade:         "Grade 7",
		Board:         "ICSE",
		UTMSource:     "google",
		MCBSyncStatus: models.SyncStatusPending,
		CreatedAt:     time.Now(),
	}
	if _, err := st.AddEnquiry(enquiry); err != nil {
		t.Fatalf("AddEnquiry failed: %v", err)
	}
	return enquiry
}

func newTestSyncer(st store.Store, api API, cfg settings.Provider) *Syncer {
	s := NewSyncer(st, api, cfg)
	s.sleep = func(time.Duration) {}
	return s
}

func TestSyncDisabledHasNoSideEffects(t *testing.T) {
	st := store.NewInMemoryStore()
	enquiry := seedEnquiry(t, st)
	api := &MockAPI{}
	s := newTestSyncer(st, api, settings.Static{})

	result := s.Sync(context.Background(), enquiry)
	if result.Success || result.Status != models.SyncOutcomeDisabled {
		t.Errorf("expected disabled outcome, got %+v", result)
	}
	if len(api.Calls) != 0 {
		t.Error("disabled sync must not call the API")
	}
	logs, _ := st.ListSyncLogsByEnquiry(enquiry.EnquiryNumber)
	if len(logs) != 0 {
		t.Errorf("disabled sync must not write sync logs, got %d", len(logs))
	}
	got, _ := st.GetEnquiryByNumber(enquiry.EnquiryNumber)
	if got.MCBSyncStatus != models.SyncStatusPending {
		t.Errorf("disabled sync must not touch the enquiry, status = %s", got.MCBSyncStatus)
	}
}

func TestSyncHTTPErrorLogsOnceAndMarksFailed(t *testing.T) {
	st := store.NewInMemoryStore()
	enquiry := seedEnquiry(t, st)
	api := &MockAPI{Result: &CallResult{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}}
	s := newTestSyncer(st, api, enabledSettings(nil))

	result := s.Sync(context.Background(), enquiry)
	if result.Success || result.Status != models.SyncOutcomeHTTP {
		t.Errorf("expected http_error outcome, got %+v", result)
	}
	if !strings.Contains(result.ErrorMessage, "500") {
		t.Errorf("error message should name the status: %q", result.ErrorMessage)
	}

	// An HTTP error status is not a transport failure; no in-call retry.
	if len(api.Calls) != 1 {
		t.Errorf("expected exactly one API call, got %d", len(api.Calls))
	}

	logs, err := st.ListSyncLogsByEnquiry(enquiry.EnquiryNumber)
	if err != nil {
		t.Fatalf("ListSyncLogsByEnquiry failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected exactly one sync log entry, got %d", len(logs))
	}
	if logs[0].Success || logs[0].ErrorMessage == "" {
		t.Errorf("log entry should record the failure: %+v", logs[0])
	}

	got, _ := st.GetEnquiryByNumber(enquiry.EnquiryNumber)
	if got == nil {
		t.Fatal("enquiry must be retained after a failed sync")
	}
	if got.MCBSyncStatus != models.SyncStatusFailed {
		t.Errorf("enquiry sync status = %s, want failed", got.MCBSyncStatus)
	}
}

func TestSyncRetriesTransportFailures(t *testing.T) {
	st := store.NewInMemoryStore()
	enquiry := seedEnquiry(t, st)
	api := &MockAPI{Err: errors.New("dial tcp: connection refused")}
	s := newTestSyncer(st, api, enabledSettings(map[string]string{
		settings.KeyMCBRetryAttempts: "3",
	}))

	result := s.Sync(context.Background(), enquiry)
	if result.Success || result.Status != models.SyncOutcomeTransport {
		t.Errorf("expected transport_error outcome, got %+v", result)
	}
	if len(api.Calls) != 3 {
		t.Errorf("expected 3 transport attempts, got %d", len(api.Calls))
	}
	// The retry loop is internal to one Sync call; still one log entry.
	logs, _ := st.ListSyncLogsByEnquiry(enquiry.EnquiryNumber)
	if len(logs) != 1 {
		t.Errorf("expected one sync log entry for the whole call, got %d", len(logs))
	}
}

func TestSyncStructuredSuccess(t *testing.T) {
	st := store.NewInMemoryStore()
	enquiry := seedEnquiry(t, st)
	api := &MockAPI{Result: &CallResult{
		StatusCode: http.StatusOK,
		Body:       `{"Result":"Success","EnquiryID":"88421","QueryCode":"QC-17"}`,
	}}
	s := newTestSyncer(st, api, enabledSettings(nil))

	result := s.Sync(context.Background(), enquiry)
	if !result.Success || result.Status != models.SyncOutcomeSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.MCBEnquiryID != "88421" || result.MCBQueryCode != "QC-17" {
		t.Errorf("CRM identifiers not captured: %+v", result)
	}

	got, _ := st.GetEnquiryByNumber(enquiry.EnquiryNumber)
	if got.MCBSyncStatus != models.SyncStatusSynced {
		t.Errorf("enquiry sync status = %s, want synced", got.MCBSyncStatus)
	}
	if got.MCBEnquiryID != "88421" || got.MCBQueryCode != "QC-17" {
		t.Errorf("CRM identifiers not persisted: %+v", got)
	}
}

func TestSyncLegacyTextSuccess(t *testing.T) {
	st := store.NewInMemoryStore()
	enquiry := seedEnquiry(t, st)
	api := &MockAPI{Result: &CallResult{
		StatusCode: http.StatusOK,
		Body:       "Thank You for contacting us. Your EnquiryCode is QC-2231.",
	}}
	s := newTestSyncer(st, api, enabledSettings(nil))

	result := s.Sync(context.Background(), enquiry)
	if !result.Success {
		t.Fatalf("legacy success text not recognized: %+v", result)
	}
	if result.MCBQueryCode != "QC-2231" {
		t.Errorf("enquiry code not extracted from legacy text: %q", result.MCBQueryCode)
	}
}

func TestSyncDuplicateCountsAsSuccess(t *testing.T) {
	st := store.NewInMemoryStore()
	enquiry := seedEnquiry(t, st)
	api := &MockAPI{Result: &CallResult{StatusCode: http.StatusOK, Body: "Enquiry already Exists"}}
	s := newTestSyncer(st, api, enabledSettings(nil))

	if result := s.Sync(context.Background(), enquiry); !result.Success {
		t.Errorf("duplicate should count as synced: %+v", result)
	}
}

func TestSyncCRMRejection(t *testing.T) {
	st := store.NewInMemoryStore()
	enquiry := seedEnquiry(t, st)
	api := &MockAPI{Result: &CallResult{
		StatusCode: http.StatusOK,
		Body:       `{"Result":"Failure","Message":"Invalid branch"}`,
	}}
	s := newTestSyncer(st, api, enabledSettings(nil))

	result := s.Sync(context.Background(), enquiry)
	if result.Success || result.Status != models.SyncOutcomeRejected {
		t.Errorf("expected crm_rejected outcome, got %+v", result)
	}
	if result.ErrorMessage != "Invalid branch" {
		t.Errorf("rejection message not surfaced: %q", result.ErrorMessage)
	}
}

func TestAdministrativeRetry(t *testing.T) {
	st := store.NewInMemoryStore()
	enquiry := seedEnquiry(t, st)
	api := &MockAPI{Result: &CallResult{StatusCode: http.StatusBadGateway, Body: "Bad Gateway"}}
	s := newTestSyncer(st, api, enabledSettings(nil))

	s.Sync(context.Background(), enquiry)
	logs, _ := st.ListSyncLogsByEnquiry(enquiry.EnquiryNumber)
	if len(logs) != 1 {
		t.Fatalf("expected one failed log entry, got %d", len(logs))
	}

	// The CRM recovers; an operator retries from the logged attempt.
	api.Result = &CallResult{StatusCode: http.StatusOK, Body: `{"Status":"Success","EnquiryID":"90001"}`}
	result, err := s.Retry(context.Background(), logs[0].ID)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful retry, got %+v", result)
	}

	retried, _ := st.GetSyncLog(logs[0].ID)
	if retried.RetryCount != 1 {
		t.Errorf("original log entry retry count = %d, want 1", retried.RetryCount)
	}
	logs, _ = st.ListSyncLogsByEnquiry(enquiry.EnquiryNumber)
	if len(logs) != 2 {
		t.Errorf("retry should append its own log entry, got %d total", len(logs))
	}
	got, _ := st.GetEnquiryByNumber(enquiry.EnquiryNumber)
	if got.MCBSyncStatus != models.SyncStatusSynced {
		t.Errorf("enquiry sync status = %s, want synced after retry", got.MCBSyncStatus)
	}
}

func TestRetryUnknownLog(t *testing.T) {
	s := newTestSyncer(store.NewInMemoryStore(), &MockAPI{}, enabledSettings(nil))
	if _, err := s.Retry(context.Background(), 404); err != models.ErrSyncLogNotFound {
		t.Errorf("expected ErrSyncLogNotFound, got %v", err)
	}
}

func TestBuildPayloadAllowListAndRemarks(t *testing.T) {
	st := store.NewInMemoryStore()
	enquiry := seedEnquiry(t, st)
	s := newTestSyncer(st, &MockAPI{}, enabledSettings(nil))

	payload := s.BuildPayload(enquiry)
	if !strings.HasPrefix(payload.Remarks, "["+enquiry.EnquiryNumber+"]") {
		t.Errorf("remarks must lead with the enquiry number: %q", payload.Remarks)
	}
	if payload.ClassID != ClassID("Grade 7", "ICSE") {
		t.Errorf("class mapping not applied: %d", payload.ClassID)
	}
	if payload.SourceID != SourceID("google", "chatbot") {
		t.Errorf("source mapping not applied: %d", payload.SourceID)
	}
	if payload.BranchID != "BR-01" {
		t.Errorf("branch id not read from settings: %q", payload.BranchID)
	}
	if payload.AcademicYear != YearID("2026-27") {
		t.Errorf("academic year not read from settings: %d", payload.AcademicYear)
	}
}

func TestClientSubmitAgainstHTTPServer(t *testing.T) {
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"Result":"Success","EnquiryID":"555"}`))
	}))
	defer srv.Close()

	client := NewClient(WithAPIURL(srv.URL), WithAPIKey("secret"))
	call, err := client.Submit(context.Background(), Payload{StudentName: "Test"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if call.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", call.StatusCode)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
	resp, ok := ParseResponse(call.Body)
	if !ok || resp.EnquiryID != "555" {
		t.Errorf("response not parsed: %+v ok=%v", resp, ok)
	}
}

func TestClientSubmitTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := NewClient(WithAPIURL(srv.URL))
	if _, err := client.Submit(context.Background(), Payload{}); err == nil {
		t.Error("expected a transport error against a closed server")
	}
}
