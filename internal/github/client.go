package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.github.com"
	userAgent      = "meritgate"
)

// ErrNotFound indicates a 404 from the forge API.
var ErrNotFound = errors.New("github: not found")

// APIError is a non-2xx response from the forge API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: API returned %d: %s", e.StatusCode, e.Body)
}

// TokenSource yields the bearer token used for API calls. Installation tokens
// expire hourly, so the client asks on every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed personal-access token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client talks to the forge REST API. The pipeline depends on exactly four
// operations: close a PR, post a comment, look up a collaborator's role, and
// fetch a file's content.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a non-default API host (tests, GHES).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient constructs a forge API client.
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClosePullRequest sets a pull request's state to closed.
func (c *Client) ClosePullRequest(ctx context.Context, owner, repo string, number int64) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	body := map[string]string{"state": "closed"}
	return c.do(ctx, http.MethodPatch, path, body, nil)
}

// AddComment posts a comment on an issue or pull request.
func (c *Client) AddComment(ctx context.Context, owner, repo string, number int64, text string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	body := map[string]string{"body": text}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// CollaboratorRole looks up a user's permission level on a repository.
// A 404 means the user is not a collaborator and maps to RoleNone.
func (c *Client) CollaboratorRole(ctx context.Context, owner, repo, username string) (CollaboratorRole, error) {
	path := fmt.Sprintf("/repos/%s/%s/collaborators/%s/permission", owner, repo, username)

	var response struct {
		Permission string `json:"permission"`
		RoleName   string `json:"role_name"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &response)
	if errors.Is(err, ErrNotFound) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, err
	}

	// role_name carries the finer-grained level when present.
	if response.RoleName != "" {
		return ParseRole(response.RoleName), nil
	}
	return ParseRole(response.Permission), nil
}

// FileContent fetches a file from the repository's default branch via the
// contents API and decodes its base64 payload.
func (c *Client) FileContent(ctx context.Context, owner, repo, path string) ([]byte, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, strings.TrimPrefix(path, "/"))

	var response struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	if response.Encoding != "base64" {
		return nil, fmt.Errorf("github: unexpected content encoding %q for %s", response.Encoding, path)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(response.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("github: decoding content of %s: %w", path, err)
	}
	return decoded, nil
}

func (c *Client) do(ctx context.Context, method, path string, requestBody, responseBody any) error {
	var reader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("github: encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("github: building request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("github: acquiring token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if responseBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(responseBody); err != nil {
			return fmt.Errorf("github: decoding response of %s %s: %w", method, path, err)
		}
	}
	return nil
}
