package github

import (
	"encoding/json"
	"fmt"
)

// User is the subset of a GitHub user object the pipeline needs.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type,omitempty"`
}

// Repository identifies the repo an event belongs to.
type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    User   `json:"owner"`
}

// PullRequest is the PR object embedded in webhook payloads.
type PullRequest struct {
	Number  int64  `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	User    User   `json:"user"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
	HTMLURL string `json:"html_url"`
}

// Comment is an issue or PR comment.
type Comment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	User    User   `json:"user"`
	HTMLURL string `json:"html_url"`
}

// Review is a pull-request review.
type Review struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	User    User   `json:"user"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
}

// PullRequestRef marks an issue as backing a pull request.
type PullRequestRef struct {
	URL string `json:"url"`
}

// Issue is the issue object embedded in issue_comment payloads.
type Issue struct {
	Number      int64           `json:"number"`
	Title       string          `json:"title"`
	User        User            `json:"user"`
	PullRequest *PullRequestRef `json:"pull_request,omitempty"`
}

// PullRequestEvent is the pull_request webhook payload.
type PullRequestEvent struct {
	Action      string      `json:"action"`
	Number      int64       `json:"number"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
	Sender      User        `json:"sender"`
}

// IssueCommentEvent is the issue_comment webhook payload.
type IssueCommentEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Comment    Comment    `json:"comment"`
	Repository Repository `json:"repository"`
	Sender     User       `json:"sender"`
}

// PullRequestReviewEvent is the pull_request_review webhook payload.
type PullRequestReviewEvent struct {
	Action      string      `json:"action"`
	Review      Review      `json:"review"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
	Sender      User        `json:"sender"`
}

// EventKind classifies a verified webhook body.
type EventKind int

const (
	// EventIgnored covers every payload the pipeline does not act on.
	EventIgnored EventKind = iota
	EventPROpened
	EventReviewSubmitted
	EventCommentCreated
)

// Event is the result of classifying a webhook payload. Exactly one of the
// typed fields is populated for non-ignored kinds.
type Event struct {
	Kind        EventKind
	PullRequest *PullRequestEvent
	Review      *PullRequestReviewEvent
	Comment     *IssueCommentEvent
}

// envelope is the shape-probing decode used to pick an event kind before
// committing to a typed parse.
type envelope struct {
	Action      string          `json:"action"`
	PullRequest json.RawMessage `json:"pull_request"`
	Review      json.RawMessage `json:"review"`
	Issue       json.RawMessage `json:"issue"`
	Comment     json.RawMessage `json:"comment"`
}

// ParseEvent decodes a verified webhook body and selects the pipeline it
// belongs to. Payloads outside the three handled shapes come back as
// EventIgnored with a nil error; a body that is not valid JSON is an error.
func ParseEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("github: invalid webhook payload: %w", err)
	}

	switch {
	case len(env.PullRequest) > 0 && len(env.Review) > 0:
		if env.Action != "submitted" {
			return Event{Kind: EventIgnored}, nil
		}
		var event PullRequestReviewEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return Event{}, fmt.Errorf("github: invalid pull_request_review payload: %w", err)
		}
		return Event{Kind: EventReviewSubmitted, Review: &event}, nil

	case len(env.PullRequest) > 0:
		if env.Action != "opened" {
			return Event{Kind: EventIgnored}, nil
		}
		var event PullRequestEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return Event{}, fmt.Errorf("github: invalid pull_request payload: %w", err)
		}
		return Event{Kind: EventPROpened, PullRequest: &event}, nil

	case len(env.Issue) > 0 && len(env.Comment) > 0:
		if env.Action != "created" {
			return Event{Kind: EventIgnored}, nil
		}
		var event IssueCommentEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return Event{}, fmt.Errorf("github: invalid issue_comment payload: %w", err)
		}
		if event.Issue.PullRequest == nil {
			// Plain issue comments are out of scope.
			return Event{Kind: EventIgnored}, nil
		}
		return Event{Kind: EventCommentCreated, Comment: &event}, nil
	}

	return Event{Kind: EventIgnored}, nil
}

// CollaboratorRole is a user's permission level on a repository.
type CollaboratorRole string

const (
	RoleAdmin    CollaboratorRole = "admin"
	RoleMaintain CollaboratorRole = "maintain"
	RoleWrite    CollaboratorRole = "write"
	RoleTriage   CollaboratorRole = "triage"
	RoleRead     CollaboratorRole = "read"
	RoleNone     CollaboratorRole = "none"
)

// IsMaintainer reports whether the role carries maintainer privileges.
func (r CollaboratorRole) IsMaintainer() bool {
	return r == RoleAdmin || r == RoleMaintain
}

// HasWriteAccess reports whether the role can push to the repository.
func (r CollaboratorRole) HasWriteAccess() bool {
	return r == RoleAdmin || r == RoleMaintain || r == RoleWrite
}

// ParseRole maps GitHub's permission strings onto CollaboratorRole. GitHub
// reports "push" and "pull" for write and read in some API versions.
func ParseRole(permission string) CollaboratorRole {
	switch permission {
	case "admin":
		return RoleAdmin
	case "maintain":
		return RoleMaintain
	case "write", "push":
		return RoleWrite
	case "triage":
		return RoleTriage
	case "read", "pull":
		return RoleRead
	default:
		return RoleNone
	}
}
