package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/CampusKit/enquirybot/internal/dedup"
	"github.com/CampusKit/enquirybot/internal/flow"
	"github.com/CampusKit/enquirybot/internal/models"
	"github.com/CampusKit/enquirybot/internal/store"
)

type chatEnvelope struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Result  models.ChatReply `json:"result"`
}

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	sm := flow.NewSessionManager(st)
	engine := flow.NewEngine(sm, flow.NewPersister(st))
	guard, err := dedup.NewGuard()
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}
	srv := httptest.NewServer(NewServer(engine, guard, st).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func postChat(t *testing.T, srv *httptest.Server, req models.ChatRequest) (int, chatEnvelope) {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(srv.URL+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /chat failed: %v", err)
	}
	defer resp.Body.Close()
	var envelope chatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.StatusCode, envelope
}

func TestChatConversationEndToEnd(t *testing.T) {
	srv, st := newTestServer(t)

	// Choosing a flow opens the conversation.
	code, env := postChat(t, srv, models.ChatRequest{Action: "callback"})
	if code != http.StatusOK || env.Status != "ok" {
		t.Fatalf("unexpected start response: %d %+v", code, env)
	}
	sessionID := env.Result.SessionID
	if sessionID == "" {
		t.Fatal("start reply should carry a session id")
	}
	if !strings.Contains(env.Result.ReplyText, "call you back") {
		t.Errorf("expected callback greeting, got %q", env.Result.ReplyText)
	}

	_, env = postChat(t, srv, models.ChatRequest{Message: "Anita Desai", SessionID: sessionID})
	if strings.Contains(env.Result.ReplyText, "call you back") {
		t.Errorf("second turn should prompt for the phone, got %q", env.Result.ReplyText)
	}

	_, env = postChat(t, srv, models.ChatRequest{Message: "9876543210", SessionID: sessionID})
	if !env.Result.Completed || env.Result.EnquiryNumber == "" {
		t.Fatalf("expected completion, got %+v", env.Result)
	}

	enquiry, err := st.GetEnquiryBySession(sessionID)
	if err != nil || enquiry == nil {
		t.Fatalf("enquiry not persisted: %v (err %v)", enquiry, err)
	}
}

func TestChatDuplicateDeliveryIsSuppressed(t *testing.T) {
	srv, st := newTestServer(t)

	_, env := postChat(t, srv, models.ChatRequest{Action: "callback"})
	sessionID := env.Result.SessionID
	postChat(t, srv, models.ChatRequest{Message: "Anita Desai", SessionID: sessionID})

	final := models.ChatRequest{Message: "9876543210", SessionID: sessionID}
	_, first := postChat(t, srv, final)
	if !first.Result.Completed {
		t.Fatalf("expected completion, got %+v", first.Result)
	}

	// The client double-submits the same turn; the cached reply comes back
	// and no second enquiry is created.
	_, second := postChat(t, srv, final)
	if second.Result.EnquiryNumber != first.Result.EnquiryNumber {
		t.Errorf("duplicate delivery produced a different enquiry number: %q vs %q",
			second.Result.EnquiryNumber, first.Result.EnquiryNumber)
	}
	if second.Result.ReplyText != first.Result.ReplyText {
		t.Errorf("duplicate delivery should replay the cached reply")
	}

	enquiries, err := st.ListEnquiries(10, 0)
	if err != nil {
		t.Fatalf("ListEnquiries failed: %v", err)
	}
	if len(enquiries) != 1 {
		t.Errorf("expected exactly one enquiry, got %d", len(enquiries))
	}
}

func TestChatWithoutSessionGetsMenu(t *testing.T) {
	srv, _ := newTestServer(t)
	_, env := postChat(t, srv, models.ChatRequest{Message: "hello"})
	if len(env.Result.Options) == 0 {
		t.Errorf("menu reply should offer flow options, got %+v", env.Result)
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	code, env := postChat(t, srv, models.ChatRequest{})
	if code != http.StatusBadRequest || env.Status != "error" {
		t.Errorf("empty request should 400, got %d %+v", code, env)
	}

	code, env = postChat(t, srv, models.ChatRequest{Action: "time-travel"})
	if code != http.StatusBadRequest {
		t.Errorf("unknown action should 400, got %d", code)
	}
	if env.Message == "" || strings.Contains(env.Message, "flow") {
		t.Errorf("error should be plain language, got %q", env.Message)
	}

	long := strings.Repeat("a", models.MaxMessageLength+1)
	if code, _ := postChat(t, srv, models.ChatRequest{Message: long}); code != http.StatusBadRequest {
		t.Errorf("overlong message should 400, got %d", code)
	}
}

func TestListEnquiriesEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	if _, err := st.AddEnquiry(models.Enquiry{
		EnquiryNumber: "ENQ2026LIST01",
		SessionID:     "sess-list",
		FlowType:      models.FlowTypeCallback,
		Source:        models.SourceChatbot,
	}); err != nil {
		t.Fatalf("AddEnquiry failed: %v", err)
	}

	resp, err := http.Get(srv.URL + "/enquiries")
	if err != nil {
		t.Fatalf("GET /enquiries failed: %v", err)
	}
	defer resp.Body.Close()
	var envelope struct {
		Status string           `json:"status"`
		Result []models.Enquiry `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(envelope.Result) != 1 || envelope.Result[0].EnquiryNumber != "ENQ2026LIST01" {
		t.Errorf("unexpected listing: %+v", envelope.Result)
	}
}

func TestSyncEndpointWithoutSyncer(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/enquiries/ENQ2026X/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST sync failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when sync is not configured, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health = %d, want 200", resp.StatusCode)
	}
}
