package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// GitHub caps App JWT lifetime at ten minutes; stay safely under it and
	// backdate iat to absorb clock skew.
	appJWTLifetime  = 9 * time.Minute
	appJWTBackdate  = time.Minute
	tokenRefreshLee = 5 * time.Minute
)

// AppAuth signs GitHub App JWTs with the App's RS256 private key.
type AppAuth struct {
	appID      int64
	privateKey *rsa.PrivateKey
	clock      func() time.Time
}

// NewAppAuth parses a PEM-encoded RSA private key and returns an AppAuth.
func NewAppAuth(appID int64, privateKeyPEM []byte) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("github: parsing App private key: %w", err)
	}
	return &AppAuth{appID: appID, privateKey: key, clock: time.Now}, nil
}

// AppID returns the GitHub App id.
func (a *AppAuth) AppID() int64 { return a.appID }

// JWT produces a short-lived RS256 token identifying the App itself.
func (a *AppAuth) JWT() (string, error) {
	now := a.clock()
	claims := jwt.RegisteredClaims{
		Issuer:    fmt.Sprintf("%d", a.appID),
		IssuedAt:  jwt.NewNumericDate(now.Add(-appJWTBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("github: signing App JWT: %w", err)
	}
	return signed, nil
}

// InstallationTokenManager exchanges App JWTs for installation access tokens
// and caches them until shortly before expiry. It satisfies TokenSource.
type InstallationTokenManager struct {
	auth           *AppAuth
	installationID int64
	baseURL        string
	httpClient     *http.Client
	clock          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// ManagerOption customises an InstallationTokenManager.
type ManagerOption func(*InstallationTokenManager)

// WithManagerBaseURL points the manager at a non-default API host.
func WithManagerBaseURL(baseURL string) ManagerOption {
	return func(m *InstallationTokenManager) {
		m.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewInstallationTokenManager constructs a token manager for one installation.
func NewInstallationTokenManager(auth *AppAuth, installationID int64, opts ...ManagerOption) *InstallationTokenManager {
	m := &InstallationTokenManager{
		auth:           auth,
		installationID: installationID,
		baseURL:        defaultBaseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a valid installation token, refreshing when the cached one
// is absent or expires within five minutes.
func (m *InstallationTokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.clock().Add(tokenRefreshLee).Before(m.expiresAt) {
		return m.token, nil
	}

	appJWT, err := m.auth.JWT()
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/app/installations/%d/access_tokens", m.baseURL, m.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("github: building token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("github: requesting installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("github: decoding installation token: %w", err)
	}

	m.token = payload.Token
	m.expiresAt = payload.ExpiresAt
	return m.token, nil
}
