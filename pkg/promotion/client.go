// Package promotion reads and edits promotion posts on a dev.to style publishing API.
package promotion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
)

const (
	// ChannelDevTo is the only channel whose edit path is implemented.
	ChannelDevTo = "devto"

	defaultBaseURL              = "https://dev.to/api"
	responseBodyReadLimit int64 = 1024
)

var (
	// ErrPostNotFound is returned when the channel has no post with the given id.
	ErrPostNotFound = errors.New("promotion post not found")

	errAPIKeyRequired = errors.New("promotion api key is required")
)

// Post is the channel's view of a promotion post.
type Post struct {
	ID        string
	Title     string
	Body      string
	Published bool
	URL       string
}

// Client wraps the article endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds the promotion client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(apiKey)
	if trimmed == "" {
		return nil, errAPIKeyRequired
	}
	client := &Client{
		apiKey:     trimmed,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Channel names the channel this client serves.
func (c *Client) Channel() string {
	return ChannelDevTo
}

type article struct {
	ID           json.Number `json:"id"`
	Title        string      `json:"title"`
	BodyMarkdown string      `json:"body_markdown"`
	Published    bool        `json:"published"`
	URL          string      `json:"url"`
}

func (a article) toPost() *Post {
	return &Post{
		ID:        a.ID.String(),
		Title:     a.Title,
		Body:      a.BodyMarkdown,
		Published: a.Published,
		URL:       a.URL,
	}
}

// GetPost fetches a post; a missing post yields ErrPostNotFound.
func (c *Client) GetPost(ctx context.Context, postID string) (*Post, error) {
	var resp article
	if err := c.do(ctx, "get post", http.MethodGet, postID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toPost(), nil
}

// UpdatePost replaces the post body.
func (c *Client) UpdatePost(ctx context.Context, postID, body string) (*Post, error) {
	if strings.TrimSpace(body) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "post body is required")
	}
	payload := map[string]any{"article": map[string]any{"body_markdown": body}}
	var resp article
	if err := c.do(ctx, "update post", http.MethodPut, postID, payload, &resp); err != nil {
		return nil, err
	}
	return resp.toPost(), nil
}

func (c *Client) do(ctx context.Context, op, method, postID string, body, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "promotion client not configured")
	}
	trimmedID := strings.TrimSpace(postID)
	if trimmedID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "post id is required")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal "+op+" request")
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := fmt.Sprintf("%s/articles/%s", strings.TrimRight(c.baseURL, "/"), url.PathEscape(trimmedID))
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+op+" request")
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Accept", "application/vnd.forem.api-v1+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrPostNotFound, op)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeRemote, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), op+" failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemote, err, "decode "+op+" response")
	}
	return nil
}
