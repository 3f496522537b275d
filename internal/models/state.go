// Package models defines session state structures for EnquiryBot flows.
package models

import "time"

// Session represents the persisted state of one visitor conversation.
type Session struct {
	SessionID       string               `json:"session_id"`
	FlowType        FlowType             `json:"flow_type"`
	StepName        StepName             `json:"step_name"`
	CollectedFields map[FieldKey]string  `json:"collected_fields,omitempty"`
	Status          SessionStatus        `json:"status"`
	RetryCount      int                  `json:"retry_count"`
	EnquiryNumber   string               `json:"enquiry_number,omitempty"` // set once the completion action has run
	StartedAt       time.Time            `json:"started_at"`
	LastActivity    time.Time            `json:"last_activity"`
}

// Field returns the collected value for key, or "" if not yet collected.
func (s *Session) Field(key FieldKey) string {
	if s.CollectedFields == nil {
		return ""
	}
	return s.CollectedFields[key]
}

// SetField records a collected field value, allocating the map on first use.
// Keys are only ever added or overwritten, never removed.
func (s *Session) SetField(key FieldKey, value string) {
	if s.CollectedFields == nil {
		s.CollectedFields = make(map[FieldKey]string)
	}
	s.CollectedFields[key] = value
}
