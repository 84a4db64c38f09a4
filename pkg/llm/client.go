// Package llm bridges stored journals to a chat-completion model and keeps
// the model's reply as an opaque JSON analysis.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/yomogi-work/kizuki-log-sync/pkg/logger"
)

// ErrAnalysisRejected is returned when the model replies with an error
// object or with something that is not the expected analysis.
var ErrAnalysisRejected = errors.New("analysis rejected")

// Request is the journal context for one analysis.
type Request struct {
	Week             int
	PracticalContent string
	UnachievedPoint  string
	InstructorNotes  string
	// PreviousTriggers are growth triggers recorded before this journal.
	PreviousTriggers []string
}

// Result is a validated analysis.
type Result struct {
	Model string
	// Body is the JSON object returned by the model, unchanged.
	Body string
	// SOS is set when the model raised an alert instead of an analysis.
	SOS bool
}

// Client produces an analysis for one journal.
type Client interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Config configures the OpenAI-compatible client. BaseURL may point at any
// compatible endpoint; empty means the public API.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type OpenAI struct {
	client *openai.Client
	cfg    Config
	log    *logger.Logger
}

// NewOpenAI returns a client for cfg. An API key and a model are required.
func NewOpenAI(cfg Config, log *logger.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is not set")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model is not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		log:    logger.OrNop(log),
	}, nil
}

func (c *OpenAI) Analyze(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: UserPrompt(req)},
		},
		Temperature: c.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices: %w", ErrAnalysisRejected)
	}
	c.log.Debug("analysis generated",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	body := resp.Choices[0].Message.Content
	sos, err := Validate(body)
	if err != nil {
		return nil, err
	}
	return &Result{Model: c.cfg.Model, Body: body, SOS: sos}, nil
}

var requiredKeys = []string{"translation_for_instructor", "mentoring_support", "mentoring_seeds"}

// Validate checks that body is an analysis object. It reports whether the
// body is an SOS alert, which is accepted as is. An {"error": ...} object
// or a body missing the analysis sections wraps ErrAnalysisRejected.
func Validate(body string) (sos bool, err error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return false, fmt.Errorf("reply is not a JSON object: %v: %w", err, ErrAnalysisRejected)
	}
	if msg, ok := obj["error"]; ok {
		return false, fmt.Errorf("model reported an error: %s: %w", msg, ErrAnalysisRejected)
	}
	if _, ok := obj["sos_alert"]; ok {
		return true, nil
	}
	for _, k := range requiredKeys {
		if _, ok := obj[k]; !ok {
			return false, fmt.Errorf("reply is missing %q: %w", k, ErrAnalysisRejected)
		}
	}
	return false, nil
}
