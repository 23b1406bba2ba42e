package service

import (
	"time"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPolicy sets the score replacement policy.
func WithPolicy(p model.Policy) Option {
	return func(s *Service) {
		if p == model.PolicyLatest || p == model.PolicyBest {
			s.policy = p
		}
	}
}

// WithClock sets the time source stamped on submissions.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDefaultMax sets the leaderboard size used when a caller gives none.
func WithDefaultMax(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.defaultMax = n
		}
	}
}

// WithMaxLimit caps the leaderboard size a caller may request.
func WithMaxLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithDedupeSize bounds the number of remembered submission ids.
func WithDedupeSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.dedupeSize = n
		}
	}
}

// WithReindexQueueSize sets the capacity of the background reindex queue.
func WithReindexQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithReindexWorkers sets the number of background reindex workers.
func WithReindexWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithRecoveryParallelism bounds how many levels are rebuilt at once on
// startup.
func WithRecoveryParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recoveryLimit = n
		}
	}
}

// WithPublisher sets where leaderboard snapshots go after a registration.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}
