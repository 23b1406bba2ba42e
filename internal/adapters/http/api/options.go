package api

import (
	"time"

	"github.com/okian/scoreboard/pkg/logger"
)

type options struct {
	timeout time.Duration
	rps     float64
	burst   int
	clock   func() time.Time
	feed    FeedServer
	stats   StatsProvider
	logger  logger.Logger
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRequestTimeout bounds every non-streaming request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRateLimit limits mutations per client to rps with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.rps = rps
		o.burst = burst
	}
}

// WithClock overrides the limiter clock.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithFeed enables the websocket feed route.
func WithFeed(f FeedServer) Option {
	return func(o *options) { o.feed = f }
}

// WithStats exposes provider at /stats.
func WithStats(p StatsProvider) Option {
	return func(o *options) { o.stats = p }
}
