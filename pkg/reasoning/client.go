// Package reasoning asks a chat-completion model for a short free-text answer.
package reasoning

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultModel = "gpt-4o-mini"
	systemPrompt = "You are an operations assistant for an automated storefront. Answer with a single remediation name from the list you are given, or none."
)

var errAPIKeyRequired = errors.New("reasoning api key is required")

// Config holds the connection settings for the completion API.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client wraps the chat completions endpoint.
type Client struct {
	api   openai.Client
	model string
}

// NewClient builds the reasoning client. Retries are disabled.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errAPIKeyRequired
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &Client{api: openai.NewClient(opts...), model: model}, nil
}

// Suggest sends prompt and returns the trimmed text of the first choice.
func (c *Client) Suggest(ctx context.Context, prompt string) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "reasoning client not configured")
	}
	if strings.TrimSpace(prompt) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "prompt is required")
	}
	completion, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", pkgerrors.Wrap(pkgerrors.CodeRemote, err, "chat completion rejected")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "chat completion request")
	}
	if len(completion.Choices) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeRemote, "chat completion returned no choices")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
