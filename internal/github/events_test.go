package github

import "testing"

func TestParseEventClassifiesPullRequestOpened(t *testing.T) {
	body := []byte(`{
		"action": "opened",
		"number": 7,
		"pull_request": {"number": 7, "title": "Fix bug", "body": "Details", "user": {"id": 42, "login": "alice"}},
		"repository": {"name": "widgets", "full_name": "acme/widgets", "owner": {"login": "acme"}}
	}`)

	event, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Kind != EventPROpened {
		t.Fatalf("kind = %d, want EventPROpened", event.Kind)
	}
	if event.PullRequest.PullRequest.Number != 7 {
		t.Fatalf("pr number = %d, want 7", event.PullRequest.PullRequest.Number)
	}
	if event.PullRequest.PullRequest.User.Login != "alice" {
		t.Fatalf("author = %q, want alice", event.PullRequest.PullRequest.User.Login)
	}
	if event.PullRequest.Repository.Owner.Login != "acme" {
		t.Fatalf("owner = %q, want acme", event.PullRequest.Repository.Owner.Login)
	}
}

func TestParseEventIgnoresOtherPullRequestActions(t *testing.T) {
	for _, action := range []string{"closed", "synchronize", "edited", "reopened"} {
		body := []byte(`{"action": "` + action + `", "pull_request": {"number": 1}, "repository": {"name": "widgets", "owner": {"login": "acme"}}}`)
		event, err := ParseEvent(body)
		if err != nil {
			t.Fatalf("parse failed for action %q: %v", action, err)
		}
		if event.Kind != EventIgnored {
			t.Fatalf("action %q: kind = %d, want EventIgnored", action, event.Kind)
		}
	}
}

func TestParseEventClassifiesReviewSubmitted(t *testing.T) {
	body := []byte(`{
		"action": "submitted",
		"review": {"id": 9, "body": "Looks good", "user": {"id": 8, "login": "bob"}, "state": "approved"},
		"pull_request": {"number": 3, "title": "Feature"},
		"repository": {"name": "widgets", "owner": {"login": "acme"}}
	}`)

	event, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Kind != EventReviewSubmitted {
		t.Fatalf("kind = %d, want EventReviewSubmitted", event.Kind)
	}
	if event.Review.Review.User.Login != "bob" {
		t.Fatalf("reviewer = %q, want bob", event.Review.Review.User.Login)
	}
}

func TestParseEventCommentOnPullRequest(t *testing.T) {
	body := []byte(`{
		"action": "created",
		"issue": {"number": 5, "title": "Bug report", "pull_request": {"url": "https://example.test/pr/5"}},
		"comment": {"id": 11, "body": "Me too", "user": {"id": 21, "login": "carol"}},
		"repository": {"name": "widgets", "owner": {"login": "acme"}}
	}`)

	event, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Kind != EventCommentCreated {
		t.Fatalf("kind = %d, want EventCommentCreated", event.Kind)
	}
	if event.Comment.Issue.Title != "Bug report" {
		t.Fatalf("issue title = %q", event.Comment.Issue.Title)
	}
}

func TestParseEventIgnoresPlainIssueComments(t *testing.T) {
	body := []byte(`{
		"action": "created",
		"issue": {"number": 5, "title": "Bug report"},
		"comment": {"id": 11, "body": "Me too", "user": {"id": 21, "login": "carol"}},
		"repository": {"name": "widgets", "owner": {"login": "acme"}}
	}`)

	event, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Kind != EventIgnored {
		t.Fatalf("kind = %d, want EventIgnored for non-PR issue comment", event.Kind)
	}
}

func TestParseEventIgnoresUnknownPayloads(t *testing.T) {
	event, err := ParseEvent([]byte(`{"action": "completed", "workflow_run": {}}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Kind != EventIgnored {
		t.Fatalf("kind = %d, want EventIgnored", event.Kind)
	}
}

func TestParseEventRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseEvent([]byte("{not json")); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestParseRoleMapsPermissionStrings(t *testing.T) {
	cases := []struct {
		permission string
		want       CollaboratorRole
	}{
		{"admin", RoleAdmin},
		{"maintain", RoleMaintain},
		{"write", RoleWrite},
		{"push", RoleWrite},
		{"triage", RoleTriage},
		{"read", RoleRead},
		{"pull", RoleRead},
		{"none", RoleNone},
		{"", RoleNone},
	}
	for _, tc := range cases {
		if got := ParseRole(tc.permission); got != tc.want {
			t.Fatalf("ParseRole(%q) = %q, want %q", tc.permission, got, tc.want)
		}
	}
}

func TestRolePrivilegeChecks(t *testing.T) {
	if !RoleAdmin.IsMaintainer() || !RoleMaintain.IsMaintainer() {
		t.Fatalf("admin and maintain must count as maintainers")
	}
	if RoleWrite.IsMaintainer() {
		t.Fatalf("write must not count as maintainer")
	}
	if !RoleWrite.HasWriteAccess() {
		t.Fatalf("write must have write access")
	}
	if RoleRead.HasWriteAccess() || RoleTriage.HasWriteAccess() || RoleNone.HasWriteAccess() {
		t.Fatalf("read, triage, and none must not have write access")
	}
}
