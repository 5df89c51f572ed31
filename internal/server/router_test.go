package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meritgate/meritgate/internal/engine"
	"github.com/meritgate/meritgate/internal/github"
	"github.com/meritgate/meritgate/internal/llm"
	"github.com/meritgate/meritgate/internal/policy"
	"github.com/meritgate/meritgate/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testWebhookSecret = "hook-secret"

type stubForge struct {
	roles map[string]github.CollaboratorRole
}

func (s *stubForge) ClosePullRequest(context.Context, string, string, int64) error { return nil }

func (s *stubForge) AddComment(context.Context, string, string, int64, string) error { return nil }

func (s *stubForge) CollaboratorRole(_ context.Context, _, _, username string) (github.CollaboratorRole, error) {
	if role, ok := s.roles[username]; ok {
		return role, nil
	}
	return github.RoleNone, nil
}

type defaultPolicies struct{}

func (defaultPolicies) Get(context.Context, string, string) policy.RepoPolicy {
	return policy.Default()
}

type serverRig struct {
	handler  http.Handler
	store    store.Store
	engine   *engine.Engine
	sessions *SessionManager
}

func newServerRig(t *testing.T, forge *stubForge) *serverRig {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), 1, nil)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	dataStore := store.NewGormStore(db, nil)

	eng, err := engine.New(engine.Config{
		Store:     dataStore,
		Forge:     forge,
		Evaluator: llm.NewMockEvaluator(),
		Policies:  defaultPolicies{},
		Sleep:     func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	t.Cleanup(eng.Close)

	sessions, err := NewSessionManager("session-secret", "", 0)
	if err != nil {
		t.Fatalf("session manager construction failed: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Engine:        eng,
		Store:         dataStore,
		Roles:         forge,
		WebhookSecret: testWebhookSecret,
		Sessions:      sessions,
		Health: HealthDeps{
			Version:      "test",
			DB:           db,
			LLMProvider:  "mock",
			LLMAvailable: eng.EvaluatorAvailable,
		},
	})
	if err != nil {
		t.Fatalf("handler construction failed: %v", err)
	}
	return &serverRig{handler: handler, store: dataStore, engine: eng, sessions: sessions}
}

func signedWebhook(t *testing.T, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encoding payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(github.SignatureHeader, github.Sign([]byte(testWebhookSecret), body))
	return req
}

func prOpenedPayload(login string, userID, number int64) map[string]any {
	return map[string]any{
		"action": "opened",
		"number": number,
		"pull_request": map[string]any{
			"number": number,
			"title":  "Add pager",
			"body":   "Implements the pager described in the issue.",
			"user":   map[string]any{"id": userID, "login": login},
		},
		"repository": map[string]any{
			"name":  "widgets",
			"owner": map[string]any{"login": "acme"},
		},
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	rig := newServerRig(t, &stubForge{})

	body := []byte(`{"action": "opened"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set(github.SignatureHeader, github.Sign([]byte("wrong-secret"), body))

	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookRejectsMalformedSignatureHeader(t *testing.T) {
	rig := newServerRig(t, &stubForge{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader("{}"))
	req.Header.Set(github.SignatureHeader, "md5=abcdef")

	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookIgnoresUnhandledEvents(t *testing.T) {
	rig := newServerRig(t, &stubForge{})

	req := signedWebhook(t, map[string]any{
		"action":     "closed",
		"pull_request": map[string]any{"number": 1},
		"repository": map[string]any{"name": "widgets", "owner": map[string]any{"login": "acme"}},
	})
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response["status"] != "not processed" {
		t.Fatalf("status = %q, want \"not processed\"", response["status"])
	}
}

func TestWebhookProcessesPullRequestOpened(t *testing.T) {
	rig := newServerRig(t, &stubForge{})

	req := signedWebhook(t, prOpenedPayload("alice", 42, 7))
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	rig.engine.Wait()

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response["status"] != "processed" {
		t.Fatalf("status = %q, want \"processed\"", response["status"])
	}

	if _, err := rig.store.Contributors().Lookup(context.Background(), 42, "acme", "widgets"); err != nil {
		t.Fatalf("contributor record missing after webhook: %v", err)
	}
}

func TestHealthReportsHealthyWithShape(t *testing.T) {
	rig := newServerRig(t, &stubForge{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var response healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.Status != "healthy" {
		t.Fatalf("status = %q, want healthy", response.Status)
	}
	if response.Version != "test" {
		t.Fatalf("version = %q", response.Version)
	}
	if !response.Database.Connected || response.Database.Driver != "sqlite" {
		t.Fatalf("database = %+v", response.Database)
	}
	if response.LLMProvider.Provider != "mock" || !response.LLMProvider.Available {
		t.Fatalf("llm_provider = %+v", response.LLMProvider)
	}
	if response.UptimeSeconds < 0 {
		t.Fatalf("uptime = %d", response.UptimeSeconds)
	}
}

func TestHealthDegradedWhenEvaluatorUnavailable(t *testing.T) {
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "health.db"), 1, nil)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	dataStore := store.NewGormStore(db, nil)
	eng, err := engine.New(engine.Config{
		Store:     dataStore,
		Forge:     &stubForge{},
		Evaluator: llm.NewMockEvaluator(),
		Policies:  defaultPolicies{},
	})
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	defer eng.Close()

	handler, err := NewHTTPHandler(Dependencies{
		Engine:        eng,
		Store:         dataStore,
		WebhookSecret: testWebhookSecret,
		Health: HealthDeps{
			DB:           db,
			LLMProvider:  "openai",
			LLMAvailable: func() bool { return false },
		},
	})
	if err != nil {
		t.Fatalf("handler construction failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var response healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.Status != "degraded" {
		t.Fatalf("status = %q, want degraded while the provider is down", response.Status)
	}
	if response.LLMProvider.Available {
		t.Fatalf("llm_provider.available must be false")
	}
}

func TestAdminRequiresSessionCookie(t *testing.T) {
	rig := newServerRig(t, &stubForge{})

	req := httptest.NewRequest(http.MethodGet, "/api/repos/acme/widgets/contributors", nil)
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminRejectsTamperedSession(t *testing.T) {
	rig := newServerRig(t, &stubForge{})

	token, err := rig.sessions.Issue("boss", 1)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/repos/acme/widgets/contributors", nil)
	req.AddCookie(&http.Cookie{Name: rig.sessions.CookieName(), Value: token + "x"})

	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminForbidsNonMaintainer(t *testing.T) {
	forge := &stubForge{roles: map[string]github.CollaboratorRole{"drive_by": github.RoleRead}}
	rig := newServerRig(t, forge)

	token, err := rig.sessions.Issue("drive_by", 2)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/repos/acme/widgets/contributors", nil)
	req.AddCookie(&http.Cookie{Name: rig.sessions.CookieName(), Value: token})

	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func maintainerRequest(t *testing.T, rig *serverRig, method, path string, payload any) *http.Request {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encoding payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	token, err := rig.sessions.Issue("boss", 1)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: rig.sessions.CookieName(), Value: token})
	return req
}

func TestAdminListsContributors(t *testing.T) {
	forge := &stubForge{roles: map[string]github.CollaboratorRole{"boss": github.RoleAdmin}}
	rig := newServerRig(t, forge)
	ctx := context.Background()

	if _, err := rig.store.Contributors().LookupOrCreate(ctx, 42, "alice", "acme", "widgets", 100); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := maintainerRequest(t, rig, http.MethodGet, "/api/repos/acme/widgets/contributors", nil)
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var response struct {
		Contributors []store.Contributor `json:"contributors"`
		Total        int64               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.Total != 1 || len(response.Contributors) != 1 {
		t.Fatalf("total = %d, listed = %d", response.Total, len(response.Contributors))
	}
	if response.Contributors[0].Username != "alice" {
		t.Fatalf("username = %q", response.Contributors[0].Username)
	}
}

func TestAdminApprovesPendingEvaluation(t *testing.T) {
	forge := &stubForge{roles: map[string]github.CollaboratorRole{"boss": github.RoleAdmin}}
	rig := newServerRig(t, forge)
	ctx := context.Background()

	contributor, err := rig.store.Contributors().LookupOrCreate(ctx, 42, "alice", "acme", "widgets", 100)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	pending := store.PendingEvaluation{
		ID: "eval-alice-widgets-1", ContributorID: contributor.ID,
		RepoOwner: "acme", RepoName: "widgets",
		EventType: "pr_opened", ContentType: "pull_request", ProposedDelta: -5,
	}
	if err := rig.store.Evaluations().Insert(ctx, &pending); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	req := maintainerRequest(t, rig, http.MethodPost,
		"/api/repos/acme/widgets/evaluations/eval-alice-widgets-1/approve",
		map[string]string{"note": "agreed"})
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	reread, err := rig.store.Contributors().GetByID(ctx, contributor.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if reread.CreditScore != 95 {
		t.Fatalf("credit = %d, want 95", reread.CreditScore)
	}
}

func TestAdminApproveMissingEvaluationIsNotFound(t *testing.T) {
	forge := &stubForge{roles: map[string]github.CollaboratorRole{"boss": github.RoleAdmin}}
	rig := newServerRig(t, forge)

	req := maintainerRequest(t, rig, http.MethodPost,
		"/api/repos/acme/widgets/evaluations/eval-none/approve", map[string]string{})
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdminApproveResolvedEvaluationConflicts(t *testing.T) {
	forge := &stubForge{roles: map[string]github.CollaboratorRole{"boss": github.RoleAdmin}}
	rig := newServerRig(t, forge)
	ctx := context.Background()

	contributor, err := rig.store.Contributors().LookupOrCreate(ctx, 42, "alice", "acme", "widgets", 100)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	pending := store.PendingEvaluation{
		ID: "eval-alice-widgets-2", ContributorID: contributor.ID,
		RepoOwner: "acme", RepoName: "widgets",
		EventType: "comment", ContentType: "comment", ProposedDelta: -2,
	}
	if err := rig.store.Evaluations().Insert(ctx, &pending); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := rig.store.Evaluations().Approve(ctx, pending.ID, ""); err != nil {
		t.Fatalf("pre-approve failed: %v", err)
	}

	req := maintainerRequest(t, rig, http.MethodPost,
		"/api/repos/acme/widgets/evaluations/eval-alice-widgets-2/approve", map[string]string{})
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestAdminBlacklistToggle(t *testing.T) {
	forge := &stubForge{roles: map[string]github.CollaboratorRole{"boss": github.RoleAdmin}}
	rig := newServerRig(t, forge)
	ctx := context.Background()

	contributor, err := rig.store.Contributors().LookupOrCreate(ctx, 42, "alice", "acme", "widgets", 100)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := maintainerRequest(t, rig, http.MethodPost,
		fmt.Sprintf("/api/repos/acme/widgets/contributors/%d/blacklist", contributor.ID),
		map[string]any{"blacklisted": true, "reason": "abuse"})
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	reread, err := rig.store.Contributors().GetByID(ctx, contributor.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !reread.IsBlacklisted {
		t.Fatalf("contributor must be blacklisted")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	sessions, err := NewSessionManager("secret", "", time.Hour)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	token, err := sessions.Issue("alice", 42)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	login, err := sessions.Validate(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if login != "alice" {
		t.Fatalf("login = %q, want alice", login)
	}

	if _, err := sessions.Validate(token + "tampered"); err == nil {
		t.Fatalf("tampered token must not validate")
	}

	other, err := NewSessionManager("different-secret", "", time.Hour)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if _, err := other.Validate(token); err == nil {
		t.Fatalf("token signed under another secret must not validate")
	}
}

func TestSessionManagerRequiresSecret(t *testing.T) {
	if _, err := NewSessionManager("", "", 0); err == nil {
		t.Fatalf("empty secret must fail")
	}
}
