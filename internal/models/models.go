// Package models defines the core data structures for EnquiryBot.
//
// It includes types for enquiries, chat requests and replies, and the JSON
// response envelope, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// EnquirySource identifies the acquisition channel of an enquiry.
type EnquirySource string

// Enquiry source constants.
const (
	SourceChatbot         EnquirySource = "chatbot"
	SourceApplicationForm EnquirySource = "application_form"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum accepted length for an inbound chat message
	MaxMessageLength = 2048
	// MaxSessionIDLength defines the maximum accepted length for a client-supplied session ID
	MaxSessionIDLength = 64
)

// Error variables for better error handling and testability
var (
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrSessionIDTooLong = errors.New("session ID exceeds maximum length")
	ErrInvalidFlowType  = errors.New("invalid flow type")
	ErrSessionNotFound  = errors.New("session not found")
	ErrEnquiryNotFound  = errors.New("enquiry not found")
	ErrEnquiryExists    = errors.New("enquiry already exists for session")
	ErrSyncLogNotFound  = errors.New("sync log entry not found")
)

// ChatRequest is the inbound payload of the chat entry point.
type ChatRequest struct {
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Validate checks a chat request before it reaches the flow engine.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" && r.Action == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if len(r.SessionID) > MaxSessionIDLength {
		return ErrSessionIDTooLong
	}
	return nil
}

// ChatReply is what the flow engine produces for one conversation turn.
type ChatReply struct {
	ReplyText     string   `json:"reply_text"`
	Options       []string `json:"options,omitempty"`
	SessionID     string   `json:"session_id"`
	Completed     bool     `json:"completed,omitempty"`
	EnquiryNumber string   `json:"enquiry_number,omitempty"`
}

// Enquiry is the durable business record produced when a session completes
// its flow. Collected fields are independently nullable; validation of
// presence happens before completion is allowed, not here.
type Enquiry struct {
	ID            int64         `json:"id,omitempty"`
	EnquiryNumber string        `json:"enquiry_number"`
	SessionID     string        `json:"session_id"`
	FlowType      FlowType      `json:"flow_type"`
	Source        EnquirySource `json:"source"`

	StudentName string `json:"student_name,omitempty"`
	ParentName  string `json:"parent_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Grade       string `json:"grade,omitempty"`
	Board       string `json:"board,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Address     string `json:"address,omitempty"`

	// Attribution fields carried through if present at capture time.
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	ClickID     string `json:"click_id,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	MCBSyncStatus SyncStatus `json:"mcb_sync_status"`
	MCBEnquiryID  string     `json:"mcb_enquiry_id,omitempty"`
	MCBQueryCode  string     `json:"mcb_query_code,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

// API status constants.
const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
