package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	contributorsFileName = "contributors.json"
	eventsFileName       = "events.json"
	evaluationsFileName  = "evaluations.json"
)

// FileStore keeps state as JSON files in a directory. It serves actions mode,
// where state lives on a git data branch instead of a database. Every mutation
// loads, changes, and rewrites the whole file; the workloads are single-shot
// CLI invocations, so that is cheap.
type FileStore struct {
	dir   string
	clock func() time.Time
	mu    sync.Mutex
}

// NewFileStore opens a file store rooted at dir. A nil clock defaults to
// time.Now. The directory must already exist (see Init).
func NewFileStore(dir string, clock func() time.Time) *FileStore {
	if clock == nil {
		clock = time.Now
	}
	return &FileStore{dir: dir, clock: clock}
}

// Init creates the state directory and empty data files. Existing files are
// left alone.
func (s *FileStore) Init() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: creating state dir: %w", err)
	}
	seeds := map[string]string{
		contributorsFileName: "[]",
		eventsFileName:       "[]",
		evaluationsFileName:  "[]",
	}
	for name, content := range seeds {
		path := filepath.Join(s.dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
			return fmt.Errorf("store: seeding %s: %w", name, err)
		}
	}
	return nil
}

func (s *FileStore) Contributors() ContributorStore { return (*fileContributors)(s) }
func (s *FileStore) Events() EventLog               { return (*fileEvents)(s) }
func (s *FileStore) Evaluations() EvaluationStore   { return (*fileEvaluations)(s) }

func loadJSON[T any](s *FileStore, name string) ([]T, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading %s: %w", name, err)
	}
	var records []T
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("store: decoding %s: %w", name, err)
	}
	return records, nil
}

func saveJSON[T any](s *FileStore, name string, records []T) error {
	if records == nil {
		records = []T{}
	}
	encoded, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("store: writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: replacing %s: %w", name, err)
	}
	return nil
}

type fileContributors FileStore

func (s *fileContributors) base() *FileStore { return (*FileStore)(s) }

func (s *fileContributors) Lookup(_ context.Context, githubUserID int64, owner, repo string) (*Contributor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(githubUserID, owner, repo)
}

func (s *fileContributors) lookupLocked(githubUserID int64, owner, repo string) (*Contributor, error) {
	contributors, err := loadJSON[Contributor](s.base(), contributorsFileName)
	if err != nil {
		return nil, err
	}
	for i := range contributors {
		c := contributors[i]
		if c.GithubUserID == githubUserID && c.RepoOwner == owner && c.RepoName == repo {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fileContributors) GetByID(_ context.Context, id int64) (*Contributor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contributors, err := loadJSON[Contributor](s.base(), contributorsFileName)
	if err != nil {
		return nil, err
	}
	for i := range contributors {
		if contributors[i].ID == id {
			c := contributors[i]
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fileContributors) LookupOrCreate(_ context.Context, githubUserID int64, username, owner, repo string, startingCredit int) (*Contributor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.lookupLocked(githubUserID, owner, repo); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	contributors, err := loadJSON[Contributor](s.base(), contributorsFileName)
	if err != nil {
		return nil, err
	}
	var maxID int64
	for i := range contributors {
		if contributors[i].ID > maxID {
			maxID = contributors[i].ID
		}
	}
	now := s.clock().UTC()
	contributor := Contributor{
		ID:           maxID + 1,
		GithubUserID: githubUserID,
		Username:     username,
		RepoOwner:    owner,
		RepoName:     repo,
		CreditScore:  startingCredit,
		Role:         "untrusted",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	contributors = append(contributors, contributor)
	if err := saveJSON(s.base(), contributorsFileName, contributors); err != nil {
		return nil, err
	}
	return &contributor, nil
}

func (s *fileContributors) UpdateCredit(ctx context.Context, id int64, creditScore int) error {
	return s.mutate(id, func(c *Contributor) { c.CreditScore = creditScore })
}

func (s *fileContributors) SetRole(ctx context.Context, id int64, role string) error {
	return s.mutate(id, func(c *Contributor) { c.Role = role })
}

func (s *fileContributors) SetBlacklisted(ctx context.Context, id int64, blacklisted bool) error {
	return s.mutate(id, func(c *Contributor) { c.IsBlacklisted = blacklisted })
}

func (s *fileContributors) mutate(id int64, apply func(*Contributor)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contributors, err := loadJSON[Contributor](s.base(), contributorsFileName)
	if err != nil {
		return err
	}
	for i := range contributors {
		if contributors[i].ID == id {
			apply(&contributors[i])
			contributors[i].UpdatedAt = s.clock().UTC()
			return saveJSON(s.base(), contributorsFileName, contributors)
		}
	}
	return ErrNotFound
}

func (s *fileContributors) ListByRepo(_ context.Context, owner, repo string, page Page) ([]Contributor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contributors, err := loadJSON[Contributor](s.base(), contributorsFileName)
	if err != nil {
		return nil, err
	}
	matched := contributors[:0:0]
	for i := range contributors {
		if contributors[i].RepoOwner == owner && contributors[i].RepoName == repo {
			matched = append(matched, contributors[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreditScore != matched[j].CreditScore {
			return matched[i].CreditScore > matched[j].CreditScore
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	return paginate(matched, page), nil
}

func (s *fileContributors) CountByRepo(_ context.Context, owner, repo string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contributors, err := loadJSON[Contributor](s.base(), contributorsFileName)
	if err != nil {
		return 0, err
	}
	var count int64
	for i := range contributors {
		if contributors[i].RepoOwner == owner && contributors[i].RepoName == repo {
			count++
		}
	}
	return count, nil
}

type fileEvents FileStore

func (s *fileEvents) base() *FileStore { return (*FileStore)(s) }

func (s *fileEvents) Append(_ context.Context, event *CreditEvent) error {
	if err := checkAuditArithmetic(event); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	events, err := loadJSON[CreditEvent](s.base(), eventsFileName)
	if err != nil {
		return err
	}
	var maxID int64
	for i := range events {
		if events[i].ID > maxID {
			maxID = events[i].ID
		}
	}
	event.ID = maxID + 1
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock().UTC()
	}
	events = append(events, *event)
	return saveJSON(s.base(), eventsFileName, events)
}

func (s *fileEvents) ListByRepo(_ context.Context, owner, repo string, filter EventFilter, page Page) ([]CreditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events, err := loadJSON[CreditEvent](s.base(), eventsFileName)
	if err != nil {
		return nil, err
	}
	matched := events[:0:0]
	for i := range events {
		if eventMatches(events[i], owner, repo, filter) {
			matched = append(matched, events[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return paginate(matched, page), nil
}

func (s *fileEvents) CountByRepo(_ context.Context, owner, repo string, filter EventFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events, err := loadJSON[CreditEvent](s.base(), eventsFileName)
	if err != nil {
		return 0, err
	}
	var count int64
	for i := range events {
		if eventMatches(events[i], owner, repo, filter) {
			count++
		}
	}
	return count, nil
}

func eventMatches(event CreditEvent, owner, repo string, filter EventFilter) bool {
	if event.RepoOwner != owner || event.RepoName != repo {
		return false
	}
	if filter.ContributorID != 0 && event.ContributorID != filter.ContributorID {
		return false
	}
	if filter.EventType != "" && event.EventType != filter.EventType {
		return false
	}
	return true
}

type fileEvaluations FileStore

func (s *fileEvaluations) base() *FileStore { return (*FileStore)(s) }

func (s *fileEvaluations) Insert(_ context.Context, evaluation *PendingEvaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	evaluations, err := loadJSON[PendingEvaluation](s.base(), evaluationsFileName)
	if err != nil {
		return err
	}
	now := s.clock().UTC()
	if evaluation.CreatedAt.IsZero() {
		evaluation.CreatedAt = now
	}
	evaluation.UpdatedAt = now
	if evaluation.Status == "" {
		evaluation.Status = EvaluationStatusPending
	}
	evaluations = append(evaluations, *evaluation)
	return saveJSON(s.base(), evaluationsFileName, evaluations)
}

func (s *fileEvaluations) Get(_ context.Context, id string) (*PendingEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evaluations, err := loadJSON[PendingEvaluation](s.base(), evaluationsFileName)
	if err != nil {
		return nil, err
	}
	for i := range evaluations {
		if evaluations[i].ID == id {
			e := evaluations[i]
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fileEvaluations) ListByRepo(_ context.Context, owner, repo, status string, page Page) ([]PendingEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evaluations, err := loadJSON[PendingEvaluation](s.base(), evaluationsFileName)
	if err != nil {
		return nil, err
	}
	matched := evaluations[:0:0]
	for i := range evaluations {
		e := evaluations[i]
		if e.RepoOwner == owner && e.RepoName == repo && (status == "" || e.Status == status) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, page), nil
}

func (s *fileEvaluations) CountByRepo(_ context.Context, owner, repo, status string) (int64, error) {
	evaluations, err := s.ListByRepo(context.Background(), owner, repo, status, Page{})
	if err != nil {
		return 0, err
	}
	return int64(len(evaluations)), nil
}

func (s *fileEvaluations) Approve(_ context.Context, id, maintainerNote string) (*PendingEvaluation, error) {
	return s.resolve(id, EvaluationStatusApproved, nil, maintainerNote)
}

func (s *fileEvaluations) Override(_ context.Context, id string, finalDelta int, maintainerNote string) (*PendingEvaluation, error) {
	return s.resolve(id, EvaluationStatusOverridden, &finalDelta, maintainerNote)
}

func (s *fileEvaluations) resolve(id, status string, finalDelta *int, maintainerNote string) (*PendingEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evaluations, err := loadJSON[PendingEvaluation](s.base(), evaluationsFileName)
	if err != nil {
		return nil, err
	}
	for i := range evaluations {
		if evaluations[i].ID != id {
			continue
		}
		if evaluations[i].Status != EvaluationStatusPending {
			return nil, ErrEvaluationNotPending
		}
		evaluations[i].Status = status
		if finalDelta != nil {
			evaluations[i].FinalDelta = finalDelta
		} else {
			delta := evaluations[i].ProposedDelta
			evaluations[i].FinalDelta = &delta
		}
		evaluations[i].MaintainerNote = maintainerNote
		evaluations[i].UpdatedAt = s.clock().UTC()
		if err := saveJSON(s.base(), evaluationsFileName, evaluations); err != nil {
			return nil, err
		}
		resolved := evaluations[i]
		return &resolved, nil
	}
	return nil, ErrNotFound
}

func paginate[T any](records []T, page Page) []T {
	if page.PerPage <= 0 {
		return records
	}
	offset := page.Offset()
	if offset >= len(records) {
		return nil
	}
	end := offset + page.PerPage
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}
