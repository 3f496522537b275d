// Package genai provides AI-assisted field extraction using the OpenAI API.
//
// It is a fallback behind the pattern-based extractor: when a message yields
// nothing usable for the current step, the model is asked to pull the field
// out. Model output is advisory and is always re-validated by the caller.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/CampusKit/enquirybot/internal/models"
)

// noneMarker is what the model is instructed to return when the field is absent.
const noneMarker = "NONE"

const systemPrompt = "You extract a single admission-intake field from a parent's chat message. " +
	"Reply with the field value only, no explanation. " +
	"If the message does not contain the requested field, reply with exactly NONE."

// fieldDescriptions tell the model what each field looks like.
var fieldDescriptions = map[models.FieldKey]string{
	models.FieldStudentName: "the student's full name",
	models.FieldParentName:  "the parent or guardian's full name",
	models.FieldEmail:       "an email address",
	models.FieldPhone:       "a 10-digit Indian mobile number",
	models.FieldGrade:       "the grade or class applied for (e.g. Grade 5, Nursery, LKG)",
	models.FieldDateOfBirth: "the student's date of birth in DD/MM/YYYY format",
	models.FieldBoard:       "the curriculum board (CBSE, ICSE, CAIE, IGCSE, IB or State)",
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model used for extraction.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion API for field extraction.
type Client struct {
	client openai.Client
	model  string
}

// NewClient initializes a new GenAI client, falling back to the
// OPENAI_API_KEY environment variable when no key option is given.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{client: cli, model: cfg.Model}, nil
}

// ExtractField asks the model for the value of a single field in message.
// Returns ok=false when the model reports the field is absent. The returned
// value must be re-validated by the caller before use.
func (c *Client) ExtractField(ctx context.Context, field models.FieldKey, message string) (string, bool, error) {
	desc, known := fieldDescriptions[field]
	if !known {
		return "", false, fmt.Errorf("no extraction prompt for field %s", field)
	}
	slog.Debug("GenAI ExtractField invoked", "field", field)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(fmt.Sprintf("Field to extract: %s.\nMessage: %s", desc, message)),
		},
	})
	if err != nil {
		slog.Error("GenAI ExtractField request failed", "error", err, "field", field)
		return "", false, fmt.Errorf("genai extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", false, fmt.Errorf("genai extraction returned no choices")
	}

	value := strings.TrimSpace(resp.Choices[0].Message.Content)
	if value == "" || strings.EqualFold(value, noneMarker) {
		slog.Debug("GenAI ExtractField found nothing", "field", field)
		return "", false, nil
	}
	slog.Debug("GenAI ExtractField succeeded", "field", field)
	return value, true, nil
}
