package policy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ContentFetcher retrieves the raw content of a file in a repository.
type ContentFetcher interface {
	FileContent(ctx context.Context, owner, repo, path string) ([]byte, error)
}

type cachedPolicy struct {
	policy    RepoPolicy
	fetchedAt time.Time
}

// Loader fetches per-repo policy files with a TTL'd in-memory cache.
//
// A fetch or parse failure yields the default policy and is not cached, so
// the next call retries. Successful fetches are cached for the configured TTL.
type Loader struct {
	fetcher  ContentFetcher
	ttl      time.Duration
	defaults RepoPolicy
	logger   *zap.Logger
	clock    func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedPolicy
}

// NewLoader constructs a policy loader.
func NewLoader(fetcher ContentFetcher, ttl time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		fetcher:  fetcher,
		ttl:      ttl,
		defaults: Default(),
		logger:   logger,
		clock:    time.Now,
		cache:    make(map[string]cachedPolicy),
	}
}

// Get returns the policy for owner/repo, serving from cache when fresh.
func (l *Loader) Get(ctx context.Context, owner, repo string) RepoPolicy {
	key := owner + "/" + repo

	l.mu.RLock()
	entry, ok := l.cache[key]
	l.mu.RUnlock()
	if ok && l.clock().Sub(entry.fetchedAt) < l.ttl {
		return entry.policy
	}

	data, err := l.fetcher.FileContent(ctx, owner, repo, PolicyFileName)
	if err != nil {
		l.logger.Warn("policy file fetch failed, using defaults",
			zap.String("repo", key), zap.Error(err))
		return l.defaults
	}

	parsed, err := ParsePolicy(data)
	if err != nil {
		l.logger.Warn("policy file invalid, using defaults",
			zap.String("repo", key), zap.Error(err))
		return l.defaults
	}

	l.mu.Lock()
	l.cache[key] = cachedPolicy{policy: parsed, fetchedAt: l.clock()}
	l.mu.Unlock()

	l.logger.Info("policy loaded",
		zap.String("repo", key),
		zap.Int("starting_credit", parsed.StartingCredit),
		zap.Int("pr_threshold", parsed.PRThreshold))

	return parsed
}

// Invalidate drops the cached policy for owner/repo.
func (l *Loader) Invalidate(owner, repo string) {
	l.mu.Lock()
	delete(l.cache, owner+"/"+repo)
	l.mu.Unlock()
}

// Size reports the number of cached entries.
func (l *Loader) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}
