// filepath: internal/flow/persister.go
// Package flow: enquiry persistence on flow completion.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CampusKit/enquirybot/internal/models"
	"github.com/CampusKit/enquirybot/internal/store"
	"github.com/CampusKit/enquirybot/internal/util"
)

// Meta carries request-scoped capture metadata into the enquiry record.
type Meta struct {
	IPAddress   string
	UserAgent   string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	ClickID     string
}

// Persister writes the finalized enquiry record exactly once per session.
type Persister struct {
	store store.Store
	now   func() time.Time // injectable for tests
}

// NewPersister creates a Persister backed by a Store.
func NewPersister(st store.Store) *Persister {
	return &Persister{store: st, now: time.Now}
}

// Submit persists the enquiry for a completed session and returns its
// enquiry number. Re-entry for a session that already has an enquiry returns
// the existing number without inserting; the storage layer's unique
// constraint on session_id backstops the check-then-act race, and a
// constraint violation is likewise treated as "already submitted".
func (p *Persister) Submit(ctx context.Context, s *models.Session, meta Meta) (string, error) {
	existing, err := p.store.GetEnquiryBySession(s.SessionID)
	if err != nil {
		slog.Error("Persister.Submit: existence check failed", "error", err, "session_id", s.SessionID)
		return "", fmt.Errorf("failed to check for existing enquiry: %w", err)
	}
	if existing != nil {
		slog.Debug("Persister.Submit: enquiry already exists", "session_id", s.SessionID, "enquiry_number", existing.EnquiryNumber)
		return existing.EnquiryNumber, nil
	}

	number := util.GenerateEnquiryNumber(p.now())
	enquiry := models.Enquiry{
		EnquiryNumber: number,
		SessionID:     s.SessionID,
		FlowType:      s.FlowType,
		Source:        models.SourceChatbot,
		StudentName:   s.Field(models.FieldStudentName),
		ParentName:    s.Field(models.FieldParentName),
		Email:         s.Field(models.FieldEmail),
		Phone:         s.Field(models.FieldPhone),
		Grade:         s.Field(models.FieldGrade),
		Board:         s.Field(models.FieldBoard),
		DateOfBirth:   s.Field(models.FieldDateOfBirth),
		UTMSource:     meta.UTMSource,
		UTMMedium:     meta.UTMMedium,
		UTMCampaign:   meta.UTMCampaign,
		ClickID:       meta.ClickID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		MCBSyncStatus: models.SyncStatusPending,
		CreatedAt:     p.now(),
	}

	if _, err := p.store.AddEnquiry(enquiry); err != nil {
		if err == models.ErrEnquiryExists {
			// Lost the race to a concurrent submit; the winner's record stands.
			winner, gerr := p.store.GetEnquiryBySession(s.SessionID)
			if gerr == nil && winner != nil {
				slog.Debug("Persister.Submit: concurrent submit won", "session_id", s.SessionID, "enquiry_number", winner.EnquiryNumber)
				return winner.EnquiryNumber, nil
			}
			return "", fmt.Errorf("enquiry exists but could not be re-read: %w", gerr)
		}
		slog.Error("Persister.Submit: insert failed", "error", err, "session_id", s.SessionID)
		return "", fmt.Errorf("failed to persist enquiry for session %s: %w", s.SessionID, err)
	}

	slog.Info("Persister.Submit: enquiry persisted", "enquiry_number", number, "session_id", s.SessionID, "flow_type", s.FlowType)
	return number, nil
}
