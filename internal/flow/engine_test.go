package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/CampusKit/enquirybot/internal/models"
	"github.com/CampusKit/enquirybot/internal/store"
)

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	sm := NewSessionManager(st)
	return NewEngine(sm, NewPersister(st), opts...), st
}

func startSession(t *testing.T, e *Engine, flowType models.FlowType) *models.Session {
	t.Helper()
	s, created, err := e.Sessions().GetOrCreate(context.Background(), "", flowType)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !created {
		t.Fatal("expected a fresh session")
	}
	return s
}

func advance(t *testing.T, e *Engine, s *models.Session, message string) models.ChatReply {
	t.Helper()
	reply, err := e.Advance(context.Background(), s, message, Meta{})
	if err != nil {
		t.Fatalf("Advance(%q) failed: %v", message, err)
	}
	return reply
}

func TestCallbackFlowEndToEnd(t *testing.T) {
	e, st := newTestEngine(t)
	s := startSession(t, e, models.FlowTypeCallback)

	if s.StepName != models.StepName(models.FieldParentName) {
		t.Fatalf("fresh callback session should ask for parent name, got %s", s.StepName)
	}

	reply := advance(t, e, s, "Anita Desai")
	if !strings.Contains(reply.ReplyText, "mobile number") {
		t.Errorf("expected phone prompt, got %q", reply.ReplyText)
	}
	reply = advance(t, e, s, "my number is 98765 43210")
	if !reply.Completed {
		t.Fatalf("expected completion, got %+v", reply)
	}
	if !strings.Contains(reply.ReplyText, reply.EnquiryNumber) {
		t.Errorf("confirmation should embed the enquiry number: %q", reply.ReplyText)
	}

	enquiry, err := st.GetEnquiryBySession(s.SessionID)
	if err != nil || enquiry == nil {
		t.Fatalf("expected persisted enquiry, got %v (err %v)", enquiry, err)
	}
	if enquiry.ParentName != "Anita Desai" || enquiry.Phone != "+919876543210" {
		t.Errorf("unexpected enquiry fields: %+v", enquiry)
	}
}

func TestRestartedConversationCollectsFieldsFresh(t *testing.T) {
	st := store.NewInMemoryStore()
	sm := NewSessionManager(st, WithSessionTTL(30*time.Minute))
	e := NewEngine(sm, NewPersister(st))

	base := time.Now()
	sm.now = func() time.Time { return base }
	s, _, err := sm.GetOrCreate(context.Background(), "sess-restart", models.FlowTypeInformation)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	advance(t, e, s, "Rahul Verma")
	advance(t, e, s, "rahul.old@example.com")

	// Past the TTL the same id starts the flow over; the first turn must be
	// asked for the email again, not skipped on the stale answer.
	sm.now = func() time.Time { return base.Add(time.Hour) }
	fresh, created, err := sm.GetOrCreate(context.Background(), "sess-restart", models.FlowTypeInformation)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !created {
		t.Fatal("expected the expired conversation to start over")
	}
	reply := advance(t, e, fresh, "Priya Nair")
	if !strings.Contains(reply.ReplyText, "email") {
		t.Errorf("restarted flow should ask for the email next, got %q", reply.ReplyText)
	}
	if got := fresh.Field(models.FieldEmail); got != "" {
		t.Errorf("restarted flow carries a stale email %q", got)
	}
}

func TestOrderIndependentFieldCollection(t *testing.T) {
	e, _ := newTestEngine(t)
	s := startSession(t, e, models.FlowTypeInformation)
	// Flow order: student_name, email, phone, grade.
	advance(t, e, s, "Rahul Verma")

	// The email step is current, but the message supplies phone and grade
	// out of order. Those must be recorded even though the step itself fails.
	advance(t, e, s, "reach us on 9876543210, he is in grade 7")
	if s.Field(models.FieldPhone) != "+919876543210" {
		t.Errorf("phone not recorded opportunistically: %v", s.CollectedFields)
	}
	if s.Field(models.FieldGrade) != "Grade 7" {
		t.Errorf("grade not recorded opportunistically: %v", s.CollectedFields)
	}
	if s.StepName != models.StepName(models.FieldEmail) {
		t.Errorf("expected to stay on the email step, got %s", s.StepName)
	}

	// Supplying the email completes the flow directly: the phone and grade
	// steps are skipped because their fields are already collected.
	reply := advance(t, e, s, "rahul@example.com")
	if !reply.Completed {
		t.Errorf("supplying the last missing field should complete the flow: %+v", reply)
	}
}

func TestValidationDoesNotAdvance(t *testing.T) {
	e, _ := newTestEngine(t)
	s := startSession(t, e, models.FlowTypeCallback)
	advance(t, e, s, "Anita Desai")

	step := s.StepName
	reply := advance(t, e, s, "12345") // invalid phone
	if s.StepName != step {
		t.Errorf("invalid input advanced the step: %s -> %s", step, s.StepName)
	}
	if s.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", s.RetryCount)
	}
	if !strings.Contains(reply.ReplyText, "9876543210") {
		t.Errorf("re-prompt should include an example: %q", reply.ReplyText)
	}
	// Earlier fields must survive the failed attempt.
	if s.Field(models.FieldParentName) != "Anita Desai" {
		t.Errorf("validation failure dropped an earlier field")
	}

	advance(t, e, s, "9876543210")
	if s.RetryCount != 0 {
		t.Errorf("retry count should reset on success, got %d", s.RetryCount)
	}
}

func TestIdempotentSubmission(t *testing.T) {
	e, st := newTestEngine(t)
	s := startSession(t, e, models.FlowTypeCallback)
	advance(t, e, s, "Anita Desai")
	first := advance(t, e, s, "9876543210")
	if !first.Completed {
		t.Fatalf("expected completion: %+v", first)
	}

	second := advance(t, e, s, "hello again")
	if second.EnquiryNumber != first.EnquiryNumber {
		t.Errorf("re-entry returned a different number: %q vs %q", second.EnquiryNumber, first.EnquiryNumber)
	}
	if !strings.Contains(second.ReplyText, "already been submitted") {
		t.Errorf("expected already-submitted reply, got %q", second.ReplyText)
	}

	enquiries, err := st.ListEnquiries(10, 0)
	if err != nil {
		t.Fatalf("ListEnquiries failed: %v", err)
	}
	if len(enquiries) != 1 {
		t.Errorf("expected exactly one enquiry row, got %d", len(enquiries))
	}
}

func TestUnknownStepRecovers(t *testing.T) {
	e, _ := newTestEngine(t)
	s := startSession(t, e, models.FlowTypeCallback)
	s.StepName = "garbage_step"

	reply := advance(t, e, s, "hello")
	if !strings.Contains(reply.ReplyText, "What would you like to do?") {
		t.Errorf("expected generic recovery prompt, got %q", reply.ReplyText)
	}
	if s.StepName != models.StepName(models.FieldParentName) {
		t.Errorf("session should point back at its first missing field, got %s", s.StepName)
	}
}

// failingStore wraps the in-memory store and fails enquiry inserts.
type failingStore struct {
	store.Store
	insertErr error
}

func (f *failingStore) AddEnquiry(e models.Enquiry) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	return f.Store.AddEnquiry(e)
}

func TestSubmitFailureIsRetryable(t *testing.T) {
	fs := &failingStore{Store: store.NewInMemoryStore(), insertErr: errors.New("disk full")}
	sm := NewSessionManager(fs)
	e := NewEngine(sm, NewPersister(fs))
	s := startSession(t, e, models.FlowTypeCallback)
	advance(t, e, s, "Anita Desai")

	reply := advance(t, e, s, "9876543210")
	if reply.Completed {
		t.Fatal("completion must not be reported when the insert fails")
	}
	if !strings.Contains(reply.ReplyText, "try again") {
		t.Errorf("expected retryable failure message, got %q", reply.ReplyText)
	}
	if s.Status == models.SessionStatusCompleted {
		t.Error("session must not be marked completed after a failed insert")
	}

	// The storage recovers; the next message resubmits.
	fs.insertErr = nil
	reply = advance(t, e, s, "anything")
	if !reply.Completed || reply.EnquiryNumber == "" {
		t.Errorf("expected successful resubmission, got %+v", reply)
	}
}

func TestCompletionListenerFires(t *testing.T) {
	done := make(chan models.Enquiry, 1)
	e, _ := newTestEngine(t, WithCompletionListener(func(enquiry models.Enquiry) {
		done <- enquiry
	}))
	s := startSession(t, e, models.FlowTypeCallback)
	advance(t, e, s, "Anita Desai")
	reply := advance(t, e, s, "9876543210")

	enquiry := <-done
	if enquiry.EnquiryNumber != reply.EnquiryNumber {
		t.Errorf("listener received %q, reply carried %q", enquiry.EnquiryNumber, reply.EnquiryNumber)
	}
}

// fixedFallback returns a canned value for one field.
type fixedFallback struct {
	field models.FieldKey
	value string
}

func (f *fixedFallback) ExtractField(ctx context.Context, field models.FieldKey, message string) (string, bool, error) {
	if field == f.field {
		return f.value, true, nil
	}
	return "", false, nil
}

func TestFallbackExtractorIsRevalidated(t *testing.T) {
	// The fallback proposes a phone in a nonstandard spelling; normalization
	// must still produce the canonical form.
	e, _ := newTestEngine(t, WithFallbackExtractor(&fixedFallback{field: models.FieldPhone, value: "91 98765 43210"}))
	s := startSession(t, e, models.FlowTypeCallback)
	advance(t, e, s, "Anita Desai")

	advance(t, e, s, "you already have my number from last time")
	if s.Field(models.FieldPhone) != "+919876543210" {
		t.Errorf("fallback value not normalized: %q", s.Field(models.FieldPhone))
	}
}

func TestFallbackGarbageIsRejected(t *testing.T) {
	e, _ := newTestEngine(t, WithFallbackExtractor(&fixedFallback{field: models.FieldPhone, value: "call me maybe"}))
	s := startSession(t, e, models.FlowTypeCallback)
	advance(t, e, s, "Anita Desai")

	step := s.StepName
	advance(t, e, s, "you already have my number")
	if s.StepName != step {
		t.Errorf("invalid fallback value advanced the step")
	}
	if s.Field(models.FieldPhone) != "" {
		t.Errorf("invalid fallback value was stored: %q", s.Field(models.FieldPhone))
	}
}
