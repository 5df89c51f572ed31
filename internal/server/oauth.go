package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

const oauthStateCookie = "meritgate_oauth_state"

// OAuthHandler runs the maintainer login flow against the forge's OAuth
// endpoint.
type OAuthHandler struct {
	config     *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

// NewOAuthHandler constructs the OAuth flow. apiBaseURL points at the forge
// REST API used to resolve the logged-in user.
func NewOAuthHandler(clientID, clientSecret, redirectURL, apiBaseURL string) *OAuthHandler {
	return &OAuthHandler{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user"},
			Endpoint:     githuboauth.Endpoint,
		},
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type forgeUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

func (o *OAuthHandler) fetchUser(ctx context.Context, token *oauth2.Token) (forgeUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBaseURL+"/user", nil)
	if err != nil {
		return forgeUser{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return forgeUser{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return forgeUser{}, fmt.Errorf("user lookup returned %d", resp.StatusCode)
	}

	var user forgeUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return forgeUser{}, err
	}
	return user, nil
}

func (h *httpHandler) handleOAuthLogin(c *gin.Context) {
	state := uuid.NewString()
	c.SetCookie(oauthStateCookie, state, 600, "/", "", false, true)
	c.Redirect(http.StatusFound, h.oauth.config.AuthCodeURL(state))
}

func (h *httpHandler) handleOAuthCallback(c *gin.Context) {
	state := c.Query("state")
	expected, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != expected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state_mismatch"})
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_code"})
		return
	}

	token, err := h.oauth.config.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("oauth exchange failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "exchange_failed"})
		return
	}

	user, err := h.oauth.fetchUser(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("oauth user lookup failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_lookup_failed"})
		return
	}

	session, err := h.sessions.Issue(user.Login, user.ID)
	if err != nil {
		h.logger.Error("session issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}

	c.SetCookie(h.sessions.CookieName(), session, h.sessions.TTLSeconds(), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"login": user.Login})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
