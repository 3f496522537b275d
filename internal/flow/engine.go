// filepath: internal/flow/engine.go
// Package flow: the conversation state machine engine.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CampusKit/enquirybot/internal/extract"
	"github.com/CampusKit/enquirybot/internal/models"
)

// Canned reply texts for guard and error conditions.
const (
	genericPrompt = "I can help with admissions, information requests, callbacks, campus tours and fee enquiries. What would you like to do?"
	// BusyReply is returned while an earlier request for the session is still processing.
	BusyReply = "We're processing your previous message, please wait a moment."
	// CeilingReply is the safe terminal reply after the dedup guard trips.
	CeilingReply = "Thanks for your patience! Your details have been received. If you don't hear from us soon, please send your question again."
	// submitFailedReply surfaces a persistence failure as retryable, never as a system error.
	submitFailedReply = "Sorry, we couldn't save your enquiry just now. Please send any message to try again."
	alreadyDoneReply  = "Your enquiry %s has already been submitted. Our team will be in touch soon."
)

// FallbackExtractor is the AI-assisted extraction hook consulted when the
// pattern pass finds nothing for the current step. Implemented by genai.Client.
type FallbackExtractor interface {
	ExtractField(ctx context.Context, field models.FieldKey, message string) (string, bool, error)
}

// CompletionListener receives the persisted enquiry after a flow completes.
// Listeners run on their own goroutine; they must not block the reply.
type CompletionListener func(enquiry models.Enquiry)

// Engine drives sessions through their flow definitions.
type Engine struct {
	sessions   *SessionManager
	persister  *Persister
	fallback   FallbackExtractor    // optional
	onComplete []CompletionListener // optional
}

// EngineOption defines a configuration option for the engine.
type EngineOption func(*Engine)

// WithFallbackExtractor wires the AI-assisted extraction fallback.
func WithFallbackExtractor(f FallbackExtractor) EngineOption {
	return func(e *Engine) { e.fallback = f }
}

// WithCompletionListener registers a listener fired after each completed enquiry.
func WithCompletionListener(l CompletionListener) EngineOption {
	return func(e *Engine) { e.onComplete = append(e.onComplete, l) }
}

// NewEngine creates a flow engine.
func NewEngine(sessions *SessionManager, persister *Persister, opts ...EngineOption) *Engine {
	e := &Engine{sessions: sessions, persister: persister}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sessions exposes the session manager for sweeps and the API layer.
func (e *Engine) Sessions() *SessionManager {
	return e.sessions
}

// Greet opens a fresh conversation: the flow's greeting plus the first prompt.
func (e *Engine) Greet(s *models.Session) models.ChatReply {
	def, ok := GetDefinition(s.FlowType)
	if !ok {
		return models.ChatReply{ReplyText: genericPrompt, SessionID: s.SessionID}
	}
	text, options := PromptFor(models.FieldKey(s.StepName), false)
	return models.ChatReply{
		ReplyText: def.Greeting + "\n" + text,
		Options:   options,
		SessionID: s.SessionID,
	}
}

// Advance processes one user message against the session's current step.
// Validation failures re-prompt for the same step and never surface as
// errors; only storage failures return a non-nil error.
func (e *Engine) Advance(ctx context.Context, s *models.Session, message string, meta Meta) (models.ChatReply, error) {
	slog.Debug("Engine.Advance", "session_id", s.SessionID, "flow_type", s.FlowType, "step", s.StepName)

	// Re-entry into a completed flow must never recreate the enquiry.
	if s.Status == models.SessionStatusCompleted || s.StepName == models.StepCompleted {
		return models.ChatReply{
			ReplyText:     fmt.Sprintf(alreadyDoneReply, s.EnquiryNumber),
			SessionID:     s.SessionID,
			Completed:     true,
			EnquiryNumber: s.EnquiryNumber,
		}, nil
	}

	def, ok := GetDefinition(s.FlowType)
	if !ok {
		return models.ChatReply{}, models.ErrInvalidFlowType
	}

	if s.StepName == models.StepReadyToSubmit {
		return e.complete(ctx, s, def, meta)
	}

	currentField := models.FieldKey(s.StepName)
	if !def.hasField(currentField) {
		// Corrupted or unknown step: recover with a generic prompt and point
		// the session back at its first missing field.
		slog.Warn("Engine.Advance: unknown step, recovering", "session_id", s.SessionID, "step", s.StepName)
		if next, missing := def.NextMissingField(s); missing {
			s.StepName = models.StepName(next)
		} else {
			s.StepName = models.StepReadyToSubmit
		}
		if err := e.sessions.Update(ctx, s); err != nil {
			return models.ChatReply{}, err
		}
		return models.ChatReply{ReplyText: genericPrompt, SessionID: s.SessionID}, nil
	}

	// Opportunistic pass: one message may satisfy several future steps.
	found := extract.Extract(message)
	for _, key := range def.RequiredFields {
		if key == currentField || isNameField(key) {
			continue
		}
		if value, ok := found[key]; ok && s.Field(key) == "" {
			s.SetField(key, value)
			slog.Debug("Engine.Advance: opportunistic field", "session_id", s.SessionID, "field", key)
		}
	}

	value, ok := e.valueForStep(ctx, currentField, found, message)
	if !ok {
		s.RetryCount++
		if err := e.sessions.Update(ctx, s); err != nil {
			return models.ChatReply{}, err
		}
		text, options := PromptFor(currentField, true)
		slog.Debug("Engine.Advance: validation failed, re-prompting", "session_id", s.SessionID, "field", currentField, "retry_count", s.RetryCount)
		return models.ChatReply{ReplyText: text, Options: options, SessionID: s.SessionID}, nil
	}

	s.SetField(currentField, value)
	s.RetryCount = 0

	next, missing := def.NextMissingField(s)
	if !missing {
		s.StepName = models.StepReadyToSubmit
		return e.complete(ctx, s, def, meta)
	}

	s.StepName = models.StepName(next)
	if err := e.sessions.Update(ctx, s); err != nil {
		return models.ChatReply{}, err
	}
	text, options := PromptFor(next, false)
	return models.ChatReply{ReplyText: text, Options: options, SessionID: s.SessionID}, nil
}

// valueForStep resolves the current step's field from the extraction pass,
// the name heuristic, or the AI fallback, in that order.
func (e *Engine) valueForStep(ctx context.Context, field models.FieldKey, found extract.Fields, message string) (string, bool) {
	if isNameField(field) {
		if name, ok := extract.ExtractName(message); ok {
			return name, true
		}
	} else if value, ok := found[field]; ok {
		return value, true
	}

	if e.fallback == nil {
		return "", false
	}
	candidate, ok, err := e.fallback.ExtractField(ctx, field, message)
	if err != nil {
		// Fallback failure degrades to a normal re-prompt.
		slog.Warn("Engine.valueForStep: fallback extraction failed", "error", err, "field", field)
		return "", false
	}
	if !ok {
		return "", false
	}
	// The model is advisory; its answer must pass the same validation as
	// direct input.
	return extract.Normalize(field, candidate)
}

// complete runs the flow's completion action exactly once and emits the
// confirmation reply. A persistence failure leaves the session un-completed
// so the user can retry.
func (e *Engine) complete(ctx context.Context, s *models.Session, def Definition, meta Meta) (models.ChatReply, error) {
	number, err := e.persister.Submit(ctx, s, meta)
	if err != nil {
		s.StepName = models.StepReadyToSubmit
		if uerr := e.sessions.Update(ctx, s); uerr != nil {
			slog.Warn("Engine.complete: failed to save ready state after submit failure", "error", uerr, "session_id", s.SessionID)
		}
		return models.ChatReply{ReplyText: submitFailedReply, SessionID: s.SessionID}, nil
	}

	s.Status = models.SessionStatusCompleted
	s.StepName = models.StepCompleted
	s.EnquiryNumber = number
	if err := e.sessions.Update(ctx, s); err != nil {
		return models.ChatReply{}, err
	}

	if len(e.onComplete) > 0 {
		enquiry, gerr := e.persister.store.GetEnquiryBySession(s.SessionID)
		if gerr != nil || enquiry == nil {
			slog.Warn("Engine.complete: could not load enquiry for listeners", "error", gerr, "session_id", s.SessionID)
		} else {
			for _, listener := range e.onComplete {
				// Notifications and CRM sync must not block the reply.
				go listener(*enquiry)
			}
		}
	}

	slog.Info("Engine.complete: flow completed", "session_id", s.SessionID, "enquiry_number", number, "flow_type", s.FlowType)
	return models.ChatReply{
		ReplyText:     fmt.Sprintf(def.ConfirmationTemplate, number),
		SessionID:     s.SessionID,
		Completed:     true,
		EnquiryNumber: number,
	}, nil
}

// hasField reports whether key is one of the definition's required fields.
func (d Definition) hasField(key models.FieldKey) bool {
	for _, f := range d.RequiredFields {
		if f == key {
			return true
		}
	}
	return false
}
