package mcb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// DefaultTimeout bounds one MCB API call. The CRM is slow under load; its
// observed worst case is just over a minute.
const DefaultTimeout = 65 * time.Second

// Payload is the exact field set the MCB enquiry endpoint accepts. It is an
// allow-list: enquiry fields without a counterpart here are never sent.
type Payload struct {
	StudentName  string `json:"StudentName"`
	ParentName   string `json:"ParentName"`
	MobileNumber string `json:"MobileNumber"`
	EmailID      string `json:"EmailID"`
	ClassID      int    `json:"ClassID"`
	BoardID      int    `json:"BoardID"`
	AcademicYear int    `json:"AcademicYearID"`
	SourceID     int    `json:"SourceID"`
	BranchID     string `json:"BranchID"`
	DateOfBirth  string `json:"DOB,omitempty"`
	Remarks      string `json:"Remarks"`
}

// CallResult is the raw outcome of one HTTP round trip to MCB. A nil error
// with any status code means the transport worked; interpreting the body is
// the caller's problem.
type CallResult struct {
	StatusCode int
	Body       string
}

// API is the MCB transport contract. Submit returns a non-nil error only for
// transport-level failures (dial, TLS, timeout); HTTP error statuses come
// back as a CallResult.
type API interface {
	Submit(ctx context.Context, payload Payload) (*CallResult, error)
}

// Opts holds configuration options for the MCB client.
type Opts struct {
	APIURL     string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option defines a configuration option for the MCB client.
type Option func(*Opts)

// WithAPIURL sets the MCB enquiry endpoint URL.
func WithAPIURL(url string) Option {
	return func(o *Opts) { o.APIURL = url }
}

// WithAPIKey sets the MCB API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient injects a custom HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the MCB enquiry endpoint over HTTP.
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
}

// Compile-time check that Client implements API.
var _ API = (*Client)(nil)

// NewClient creates an MCB API client.
func NewClient(opts ...Option) *Client {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Debug("Creating MCB client", "api_url", cfg.APIURL, "timeout", cfg.Timeout)
	return &Client{apiURL: cfg.APIURL, apiKey: cfg.APIKey, http: httpClient}
}

// Submit POSTs one enquiry payload to MCB.
func (c *Client) Submit(ctx context.Context, payload Payload) (*CallResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode MCB payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build MCB request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("MCB request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read MCB response: %w", err)
	}
	slog.Debug("MCB call completed", "status_code", resp.StatusCode, "body_len", len(raw))
	return &CallResult{StatusCode: resp.StatusCode, Body: string(raw)}, nil
}

// Response is the structured portion of an MCB reply. The API sometimes
// returns this JSON shape and sometimes an unstructured human-readable
// string, so parsing is defensive throughout.
type Response struct {
	Result    string `json:"Result"`
	Status    string `json:"Status"`
	EnquiryID string `json:"EnquiryID"`
	QueryCode string `json:"QueryCode"`
	Message   string `json:"Message"`
}

// enquiryCodeRe pulls the code out of the legacy free-text success reply
// ("Thank You ... EnquiryCode is ABC123.").
var enquiryCodeRe = regexp.MustCompile(`EnquiryCode is\s+([A-Za-z0-9\-]+)`)

// ParseResponse interprets an MCB reply body. The structured Result/Status
// fields are the primary signal; the free-text markers are a legacy fallback
// kept until the real API contract is pinned down. A duplicate ("already
// Exists") counts as success: the enquiry is in the CRM either way.
func ParseResponse(body string) (resp Response, ok bool) {
	if err := json.Unmarshal([]byte(body), &resp); err == nil {
		if strings.EqualFold(resp.Result, "Success") || strings.EqualFold(resp.Status, "Success") {
			return resp, true
		}
		if resp.Result != "" || resp.Status != "" {
			return resp, false
		}
	}

	if strings.Contains(body, "Thank You") {
		if m := enquiryCodeRe.FindStringSubmatch(body); m != nil {
			resp.QueryCode = m[1]
		}
		return resp, true
	}
	if strings.Contains(body, "already Exists") {
		return resp, true
	}
	return resp, false
}

// MockAPI is a test double for the MCB transport.
type MockAPI struct {
	Result *CallResult
	Err    error
	Calls  []Payload
}

// Compile-time check that MockAPI implements API.
var _ API = (*MockAPI)(nil)

func (m *MockAPI) Submit(ctx context.Context, payload Payload) (*CallResult, error) {
	m.Calls = append(m.Calls, payload)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}
