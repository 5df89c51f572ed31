package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 24 * time.Hour

var (
	errMissingSessionSecret = errors.New("session signing secret is required")
	errInvalidSession       = errors.New("invalid session token")
)

// SessionManager issues and validates the HS256 session cookie for the
// maintainer admin UI.
type SessionManager struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	clock      func() time.Time
}

// NewSessionManager constructs a session manager. A zero ttl defaults to 24h.
func NewSessionManager(secret, cookieName string, ttl time.Duration) (*SessionManager, error) {
	if secret == "" {
		return nil, errMissingSessionSecret
	}
	if cookieName == "" {
		cookieName = "meritgate_session"
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionManager{
		secret:     []byte(secret),
		cookieName: cookieName,
		ttl:        ttl,
		clock:      time.Now,
	}, nil
}

// CookieName returns the cookie the session token travels in.
func (m *SessionManager) CookieName() string { return m.cookieName }

// TTLSeconds returns the session lifetime for cookie max-age.
func (m *SessionManager) TTLSeconds() int { return int(m.ttl.Seconds()) }

// Issue signs a session token for the given forge login.
func (m *SessionManager) Issue(login string, userID int64) (string, error) {
	now := m.clock()
	claims := jwt.MapClaims{
		"sub": login,
		"uid": userID,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("server: signing session token: %w", err)
	}
	return signed, nil
}

// Validate checks a session token and returns the forge login it names.
func (m *SessionManager) Validate(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", errInvalidSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidSession
	}
	login, ok := claims["sub"].(string)
	if !ok || login == "" {
		return "", errInvalidSession
	}
	return login, nil
}
