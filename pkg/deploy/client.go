// Package deploy talks to the Vercel REST API: inline-file deployments, project
// environment variables and deployment protection.
package deploy

import (
	"bytes"
	"context"
	"encoding/base64"
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
	defaultBaseURL              = "https://api.vercel.com"
	responseBodyReadLimit int64 = 2048
)

var (
	errTokenRequired  = errors.New("deploy api token is required")
	errTargetRequired = errors.New("deploy target id is required")
)

// File is one file of a deployment, addressed by its path relative to the project root.
type File struct {
	Path string
	Data []byte
}

// Deployment is the result of a successful deploy call.
type Deployment struct {
	ID  string
	URL string
}

// APIError carries a non-2xx answer from the deployment API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client wraps the Vercel endpoints needed to (re)deploy a storefront.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	teamID     string
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

// WithTeamID scopes every call to a team.
func WithTeamID(teamID string) Option {
	return func(c *Client) {
		c.teamID = strings.TrimSpace(teamID)
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

// NewClient builds the deployment client given an API token.
func NewClient(token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errTokenRequired
	}
	client := &Client{
		token:      trimmed,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Deploy uploads files inline and returns the production URL of the new deployment.
func (c *Client) Deploy(ctx context.Context, targetID string, files []File) (*Deployment, error) {
	if strings.TrimSpace(targetID) == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, errTargetRequired, "deploy")
	}
	if len(files) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deploy requires at least one file")
	}

	type inlineFile struct {
		File     string `json:"file"`
		Data     string `json:"data"`
		Encoding string `json:"encoding"`
	}
	payload := struct {
		Name            string         `json:"name"`
		Project         string         `json:"project"`
		Target          string         `json:"target"`
		Files           []inlineFile   `json:"files"`
		ProjectSettings map[string]any `json:"projectSettings"`
	}{
		Name:            targetID,
		Project:         targetID,
		Target:          "production",
		ProjectSettings: map[string]any{"framework": nil},
	}
	for _, f := range files {
		payload.Files = append(payload.Files, inlineFile{
			File:     strings.TrimLeft(f.Path, "/"),
			Data:     base64.StdEncoding.EncodeToString(f.Data),
			Encoding: "base64",
		})
	}

	var resp struct {
		ID    string   `json:"id"`
		URL   string   `json:"url"`
		Alias []string `json:"alias"`
	}
	if err := c.do(ctx, "create deployment", http.MethodPost, "/v13/deployments", payload, &resp); err != nil {
		return nil, err
	}
	host := resp.URL
	if len(resp.Alias) > 0 && resp.Alias[0] != "" {
		host = resp.Alias[0]
	}
	if host == "" {
		return nil, pkgerrors.New(pkgerrors.CodeRemote, "deployment response missing url")
	}
	return &Deployment{ID: resp.ID, URL: normalizeURL(host)}, nil
}

// SetEnvVar updates the variable when it exists on the project, otherwise creates it.
func (c *Client) SetEnvVar(ctx context.Context, targetID, key, value string) error {
	if strings.TrimSpace(targetID) == "" {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, errTargetRequired, "set env var")
	}
	project := url.PathEscape(targetID)

	var existing struct {
		Envs []struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		} `json:"envs"`
	}
	if err := c.do(ctx, "list env vars", http.MethodGet, "/v9/projects/"+project+"/env", nil, &existing); err != nil {
		return err
	}

	targets := []string{"production", "preview"}
	for _, env := range existing.Envs {
		if env.Key != key {
			continue
		}
		body := map[string]any{"value": value, "type": "encrypted", "target": targets}
		return c.do(ctx, "update env var", http.MethodPatch, "/v9/projects/"+project+"/env/"+url.PathEscape(env.ID), body, nil)
	}

	body := map[string]any{"key": key, "value": value, "type": "encrypted", "target": targets}
	return c.do(ctx, "create env var", http.MethodPost, "/v10/projects/"+project+"/env", body, nil)
}

// DisableProtection turns off deployment protection so buyers can reach the storefront.
func (c *Client) DisableProtection(ctx context.Context, targetID string) error {
	if strings.TrimSpace(targetID) == "" {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, errTargetRequired, "disable protection")
	}
	body := map[string]any{"ssoProtection": nil}
	return c.do(ctx, "disable protection", http.MethodPatch, "/v9/projects/"+url.PathEscape(targetID), body, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "deploy client not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal "+op+" request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+op+" request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		return pkgerrors.Wrap(pkgerrors.CodeRemote, apiErr, op+" failed").WithDetails(map[string]any{"status": resp.StatusCode})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemote, err, "decode "+op+" response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	u := strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if c.teamID != "" {
		u += "?teamId=" + url.QueryEscape(c.teamID)
	}
	return u
}

func normalizeURL(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "https://" + host
}
