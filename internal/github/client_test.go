package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClosePullRequestPatchesState(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(StaticToken("tok"), WithBaseURL(ts.URL))
	if err := client.ClosePullRequest(context.Background(), "acme", "widgets", 7); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("method = %q, want PATCH", gotMethod)
	}
	if gotPath != "/repos/acme/widgets/pulls/7" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotBody["state"] != "closed" {
		t.Fatalf("body state = %q, want closed", gotBody["state"])
	}
}

func TestAddCommentPostsBody(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	client := NewClient(StaticToken("tok"), WithBaseURL(ts.URL))
	if err := client.AddComment(context.Background(), "acme", "widgets", 7, "hello"); err != nil {
		t.Fatalf("comment failed: %v", err)
	}
	if gotPath != "/repos/acme/widgets/issues/7/comments" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody["body"] != "hello" {
		t.Fatalf("comment body = %q", gotBody["body"])
	}
}

func TestCollaboratorRoleMapsNotFoundToNone(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(StaticToken("tok"), WithBaseURL(ts.URL))
	role, err := client.CollaboratorRole(context.Background(), "acme", "widgets", "stranger")
	if err != nil {
		t.Fatalf("role lookup failed: %v", err)
	}
	if role != RoleNone {
		t.Fatalf("role = %q, want none", role)
	}
}

func TestCollaboratorRolePrefersRoleName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"permission": "write",
			"role_name":  "maintain",
		})
	}))
	defer ts.Close()

	client := NewClient(StaticToken("tok"), WithBaseURL(ts.URL))
	role, err := client.CollaboratorRole(context.Background(), "acme", "widgets", "bob")
	if err != nil {
		t.Fatalf("role lookup failed: %v", err)
	}
	if role != RoleMaintain {
		t.Fatalf("role = %q, want maintain", role)
	}
}

func TestCollaboratorRoleFallsBackToPermission(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"permission": "push"})
	}))
	defer ts.Close()

	client := NewClient(StaticToken("tok"), WithBaseURL(ts.URL))
	role, err := client.CollaboratorRole(context.Background(), "acme", "widgets", "bob")
	if err != nil {
		t.Fatalf("role lookup failed: %v", err)
	}
	if role != RoleWrite {
		t.Fatalf("role = %q, want write", role)
	}
}

func TestFileContentDecodesBase64(t *testing.T) {
	content := "starting_credit = 100\n"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/contents/.meritgate.toml" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"content":  base64.StdEncoding.EncodeToString([]byte(content)),
			"encoding": "base64",
		})
	}))
	defer ts.Close()

	client := NewClient(StaticToken("tok"), WithBaseURL(ts.URL))
	data, err := client.FileContent(context.Background(), "acme", "widgets", ".meritgate.toml")
	if err != nil {
		t.Fatalf("file content failed: %v", err)
	}
	if string(data) != content {
		t.Fatalf("content = %q, want %q", data, content)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server on fire", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(StaticToken("tok"), WithBaseURL(ts.URL))
	err := client.AddComment(context.Background(), "acme", "widgets", 1, "hi")
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("error = %v, want APIError with status 500", err)
	}
}
