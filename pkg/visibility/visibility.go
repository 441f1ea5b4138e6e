// Package visibility asks a search index whether a storefront URL is discoverable.
package visibility

import (
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
	defaultBaseURL              = "https://www.googleapis.com/customsearch/v1"
	responseBodyReadLimit int64 = 1024
)

var (
	errAPIKeyRequired   = errors.New("visibility api key is required")
	errEngineIDRequired = errors.New("visibility search engine id is required")
)

// Result is the outcome of a single visibility lookup.
type Result struct {
	Indexed      bool
	TotalResults string
}

// Client wraps the Custom Search JSON API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	engineID   string
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

// WithBaseURL overrides the search endpoint.
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

// NewClient builds the visibility client.
func NewClient(apiKey, engineID string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errAPIKeyRequired
	}
	if strings.TrimSpace(engineID) == "" {
		return nil, errEngineIDRequired
	}
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		engineID:   strings.TrimSpace(engineID),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Check runs a site: query for the URL's host and path.
func (c *Client) Check(ctx context.Context, pageURL string) (*Result, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "visibility client not configured")
	}
	parsed, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || parsed.Host == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "absolute url is required")
	}

	query := url.Values{}
	query.Set("key", c.apiKey)
	query.Set("cx", c.engineID)
	query.Set("q", "site:"+parsed.Host+strings.TrimRight(parsed.Path, "/"))
	query.Set("num", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build visibility request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute visibility request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemote, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "visibility request failed")
	}

	var apiResp struct {
		SearchInformation struct {
			TotalResults string `json:"totalResults"`
		} `json:"searchInformation"`
		Items []struct {
			Link string `json:"link"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemote, err, "decode visibility response")
	}
	return &Result{
		Indexed:      len(apiResp.Items) > 0,
		TotalResults: apiResp.SearchInformation.TotalResults,
	}, nil
}
