package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// maxConns bounds the connection pool; values below one fall back to a single
// connection, the safe floor for SQLite writers.
func OpenSQLite(path string, maxConns int, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if maxConns < 1 {
		maxConns = 1
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxConns)

	if err := db.AutoMigrate(&Contributor{}, &CreditEvent{}, &PendingEvaluation{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// GormStore backs the persistence interfaces with a gorm database handle.
type GormStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormStore wraps a database handle. A nil clock defaults to time.Now.
func NewGormStore(db *gorm.DB, clock func() time.Time) *GormStore {
	if clock == nil {
		clock = time.Now
	}
	return &GormStore{db: db, clock: clock}
}

func (s *GormStore) Contributors() ContributorStore { return (*gormContributors)(s) }
func (s *GormStore) Events() EventLog               { return (*gormEvents)(s) }
func (s *GormStore) Evaluations() EvaluationStore   { return (*gormEvaluations)(s) }

// DB exposes the underlying handle for health checks.
func (s *GormStore) DB() *gorm.DB { return s.db }

type gormContributors GormStore

func (s *gormContributors) Lookup(ctx context.Context, githubUserID int64, owner, repo string) (*Contributor, error) {
	var contributor Contributor
	err := s.db.WithContext(ctx).
		Where("github_user_id = ? AND repo_owner = ? AND repo_name = ?", githubUserID, owner, repo).
		Take(&contributor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: contributor lookup: %w", err)
	}
	return &contributor, nil
}

func (s *gormContributors) GetByID(ctx context.Context, id int64) (*Contributor, error) {
	var contributor Contributor
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&contributor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: contributor get: %w", err)
	}
	return &contributor, nil
}

func (s *gormContributors) LookupOrCreate(ctx context.Context, githubUserID int64, username, owner, repo string, startingCredit int) (*Contributor, error) {
	existing, err := s.Lookup(ctx, githubUserID, owner, repo)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.clock().UTC()
	contributor := Contributor{
		GithubUserID: githubUserID,
		Username:     username,
		RepoOwner:    owner,
		RepoName:     repo,
		CreditScore:  startingCredit,
		Role:         "untrusted",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	createErr := s.db.WithContext(ctx).Create(&contributor).Error
	if createErr == nil {
		return &contributor, nil
	}

	// A concurrent insert of the same (user, repo) hits the unique index;
	// the row it created is the answer.
	if isUniqueViolation(createErr) {
		return s.Lookup(ctx, githubUserID, owner, repo)
	}
	return nil, fmt.Errorf("store: contributor create: %w", createErr)
}

func (s *gormContributors) UpdateCredit(ctx context.Context, id int64, creditScore int) error {
	return s.updateColumns(ctx, id, map[string]any{"credit_score": creditScore})
}

func (s *gormContributors) SetRole(ctx context.Context, id int64, role string) error {
	return s.updateColumns(ctx, id, map[string]any{"role": role})
}

func (s *gormContributors) SetBlacklisted(ctx context.Context, id int64, blacklisted bool) error {
	return s.updateColumns(ctx, id, map[string]any{"is_blacklisted": blacklisted})
}

func (s *gormContributors) updateColumns(ctx context.Context, id int64, columns map[string]any) error {
	columns["updated_at"] = s.clock().UTC()
	result := s.db.WithContext(ctx).Model(&Contributor{}).Where("id = ?", id).Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("store: contributor update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormContributors) ListByRepo(ctx context.Context, owner, repo string, page Page) ([]Contributor, error) {
	var contributors []Contributor
	query := s.db.WithContext(ctx).
		Where("repo_owner = ? AND repo_name = ?", owner, repo).
		Order("credit_score DESC, updated_at DESC")
	if page.PerPage > 0 {
		query = query.Offset(page.Offset()).Limit(page.PerPage)
	}
	if err := query.Find(&contributors).Error; err != nil {
		return nil, fmt.Errorf("store: contributor list: %w", err)
	}
	return contributors, nil
}

func (s *gormContributors) CountByRepo(ctx context.Context, owner, repo string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Contributor{}).
		Where("repo_owner = ? AND repo_name = ?", owner, repo).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("store: contributor count: %w", err)
	}
	return count, nil
}

type gormEvents GormStore

func (s *gormEvents) Append(ctx context.Context, event *CreditEvent) error {
	if err := checkAuditArithmetic(event); err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock().UTC()
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("store: event append: %w", err)
	}
	return nil
}

func (s *gormEvents) ListByRepo(ctx context.Context, owner, repo string, filter EventFilter, page Page) ([]CreditEvent, error) {
	var events []CreditEvent
	query := s.eventQuery(ctx, owner, repo, filter).Order("created_at DESC, id DESC")
	if page.PerPage > 0 {
		query = query.Offset(page.Offset()).Limit(page.PerPage)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("store: event list: %w", err)
	}
	return events, nil
}

func (s *gormEvents) CountByRepo(ctx context.Context, owner, repo string, filter EventFilter) (int64, error) {
	var count int64
	if err := s.eventQuery(ctx, owner, repo, filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("store: event count: %w", err)
	}
	return count, nil
}

func (s *gormEvents) eventQuery(ctx context.Context, owner, repo string, filter EventFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&CreditEvent{}).
		Where("repo_owner = ? AND repo_name = ?", owner, repo)
	if filter.ContributorID != 0 {
		query = query.Where("contributor_id = ?", filter.ContributorID)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	return query
}

type gormEvaluations GormStore

func (s *gormEvaluations) Insert(ctx context.Context, evaluation *PendingEvaluation) error {
	now := s.clock().UTC()
	if evaluation.CreatedAt.IsZero() {
		evaluation.CreatedAt = now
	}
	evaluation.UpdatedAt = now
	if evaluation.Status == "" {
		evaluation.Status = EvaluationStatusPending
	}
	if err := s.db.WithContext(ctx).Create(evaluation).Error; err != nil {
		return fmt.Errorf("store: evaluation insert: %w", err)
	}
	return nil
}

func (s *gormEvaluations) Get(ctx context.Context, id string) (*PendingEvaluation, error) {
	var evaluation PendingEvaluation
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&evaluation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: evaluation get: %w", err)
	}
	return &evaluation, nil
}

func (s *gormEvaluations) ListByRepo(ctx context.Context, owner, repo, status string, page Page) ([]PendingEvaluation, error) {
	var evaluations []PendingEvaluation
	query := s.evaluationQuery(ctx, owner, repo, status).Order("created_at DESC")
	if page.PerPage > 0 {
		query = query.Offset(page.Offset()).Limit(page.PerPage)
	}
	if err := query.Find(&evaluations).Error; err != nil {
		return nil, fmt.Errorf("store: evaluation list: %w", err)
	}
	return evaluations, nil
}

func (s *gormEvaluations) CountByRepo(ctx context.Context, owner, repo, status string) (int64, error) {
	var count int64
	if err := s.evaluationQuery(ctx, owner, repo, status).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("store: evaluation count: %w", err)
	}
	return count, nil
}

func (s *gormEvaluations) evaluationQuery(ctx context.Context, owner, repo, status string) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&PendingEvaluation{}).
		Where("repo_owner = ? AND repo_name = ?", owner, repo)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	return query
}

func (s *gormEvaluations) Approve(ctx context.Context, id, maintainerNote string) (*PendingEvaluation, error) {
	return s.resolve(ctx, id, EvaluationStatusApproved, nil, maintainerNote)
}

func (s *gormEvaluations) Override(ctx context.Context, id string, finalDelta int, maintainerNote string) (*PendingEvaluation, error) {
	return s.resolve(ctx, id, EvaluationStatusOverridden, &finalDelta, maintainerNote)
}

func (s *gormEvaluations) resolve(ctx context.Context, id, status string, finalDelta *int, maintainerNote string) (*PendingEvaluation, error) {
	var resolved *PendingEvaluation
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var evaluation PendingEvaluation
		err := tx.Where("id = ?", id).Take(&evaluation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: evaluation select: %w", err)
		}
		if evaluation.Status != EvaluationStatusPending {
			return ErrEvaluationNotPending
		}

		evaluation.Status = status
		if finalDelta != nil {
			evaluation.FinalDelta = finalDelta
		} else {
			delta := evaluation.ProposedDelta
			evaluation.FinalDelta = &delta
		}
		evaluation.MaintainerNote = maintainerNote
		evaluation.UpdatedAt = s.clock().UTC()

		if err := tx.Save(&evaluation).Error; err != nil {
			return fmt.Errorf("store: evaluation update: %w", err)
		}
		resolved = &evaluation
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return resolved, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "constraint failed")
}
