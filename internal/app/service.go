// Package service implements the scoreboard engine: score registration
// with incremental ranking, leaderboard queries, player registration and
// legacy account linking.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/scoreboard/internal/adapters/mq/queue"
	"github.com/okian/scoreboard/internal/adapters/mq/worker"
	"github.com/okian/scoreboard/internal/adapters/rankindex"
	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/domain/dedupe"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
)

const (
	levelLockStripes = 64

	defaultLeaderboardMax = 50
	defaultMaxLimit       = 1000
	defaultDedupeSize     = 50000
	defaultReindexQueue   = 1024
	defaultReindexWorkers = 2
	defaultRecoveryLimit  = 8
	maxRecordLevels       = 100
)

var (
	// ErrMissingDependency is returned by New when a collaborator is nil.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrStopped is returned by Start once the engine has been stopped.
	ErrStopped = errors.New("scoreboard engine stopped")
)

// TokenResolver turns an opaque bearer token into an identity claim.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (model.IdentityClaim, error)
}

// LegacyAuthenticator verifies pre-migration credentials.
type LegacyAuthenticator interface {
	CheckAPIKey(key string) error
	Verify(ctx context.Context, usernameOrEmail, password string) (model.LegacyUser, error)
}

// Publisher receives a level's leaderboard after every registered score.
// Publish runs while the level is locked for writing and must not block.
type Publisher interface {
	Publish(ctx context.Context, level model.Level, rows []model.LeaderboardRow)
}

// Dependencies are the collaborators the engine is built from. The caller
// owns their lifecycle.
type Dependencies struct {
	Store  storage.Store
	Index  rankindex.Index
	Tokens TokenResolver
	Legacy LegacyAuthenticator
}

// Service is the scoreboard engine.
type Service struct {
	store  storage.Store
	index  rankindex.Index
	tokens TokenResolver
	legacy LegacyAuthenticator

	publisher Publisher
	deduper   dedupe.Deduper
	reindexQ  *queue.InMemoryQueue
	pool      *worker.Pool

	// Writes on a level hold its stripe exclusively; reads share it, so a
	// reader never sees the index ahead of or behind the store.
	stripes [levelLockStripes]sync.RWMutex

	dirtyMu sync.Mutex
	dirty   map[model.Level]struct{}

	policy        model.Policy
	clock         func() time.Time
	defaultMax    int
	maxLimit      int
	dedupeSize    int
	queueSize     int
	workerCount   int
	recoveryLimit int

	mu      sync.Mutex
	started bool
	stopped bool

	logger logger.Logger
}

// New wires a Service. Start must be called before the engine serves reads
// so the rank index is re-derived from the store.
func New(deps Dependencies, opts ...Option) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case deps.Index == nil:
		return nil, fmt.Errorf("%w: rank index", ErrMissingDependency)
	case deps.Tokens == nil:
		return nil, fmt.Errorf("%w: token resolver", ErrMissingDependency)
	case deps.Legacy == nil:
		return nil, fmt.Errorf("%w: legacy authenticator", ErrMissingDependency)
	}

	s := &Service{
		store:         deps.Store,
		index:         deps.Index,
		tokens:        deps.Tokens,
		legacy:        deps.Legacy,
		dirty:         make(map[model.Level]struct{}),
		policy:        model.PolicyLatest,
		clock:         time.Now,
		defaultMax:    defaultLeaderboardMax,
		maxLimit:      defaultMaxLimit,
		dedupeSize:    defaultDedupeSize,
		queueSize:     defaultReindexQueue,
		workerCount:   defaultReindexWorkers,
		recoveryLimit: defaultRecoveryLimit,
		logger:        logger.Get().Named("scoreboard"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultMax > s.maxLimit {
		s.defaultMax = s.maxLimit
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.reindexQ = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.reindexQ, s,
		worker.WithLogger(s.logger.Named("reindex")),
	)
	return s, nil
}

// Start re-derives every level's rank index from the store and starts the
// reindex workers. A stopped engine cannot be started again.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting scoreboard engine", logger.String("policy", string(s.policy)))
	start := time.Now()
	n, err := s.recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering rank index: %w", err)
	}
	s.pool.Start(context.WithoutCancel(ctx))
	s.started = true

	s.logger.Info(ctx, "scoreboard engine started",
		logger.Int("levels", n),
		logger.Duration("recovery", time.Since(start)),
		logger.Int("workers", s.pool.Size()),
	)
	return nil
}

func (s *Service) recover(ctx context.Context) (int, error) {
	levels, err := s.store.ListLevels(ctx)
	if err != nil {
		return 0, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.recoveryLimit)
	for _, level := range levels {
		g.Go(func() error {
			return s.rebuildLevel(gctx, level, "recovery")
		})
	}
	return len(levels), g.Wait()
}

// Stop drains the reindex workers and is final. Stores and indexes stay
// open; their owner closes them.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping scoreboard engine")
	err := s.pool.Shutdown(ctx)
	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "scoreboard engine stopped")
	return err
}

// GetStats returns engine statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	s.dirtyMu.Lock()
	dirty := len(s.dirty)
	s.dirtyMu.Unlock()

	return map[string]any{
		"started":        started,
		"policy":         string(s.policy),
		"dirtyLevels":    dirty,
		"dedupeSize":     s.deduper.Size(),
		"reindexQueued":  s.reindexQ.Len(context.Background()),
		"reindexWorkers": s.pool.Size(),
		"defaultMax":     s.defaultMax,
		"maxLimit":       s.maxLimit,
	}
}

func (s *Service) stripe(level model.Level) *sync.RWMutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(level.Key()))
	return &s.stripes[h.Sum32()%levelLockStripes]
}

func (s *Service) clampMax(limit int) int {
	switch {
	case limit <= 0:
		return s.defaultMax
	case limit > s.maxLimit:
		return s.maxLimit
	default:
		return limit
	}
}
