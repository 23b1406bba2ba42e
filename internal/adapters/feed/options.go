package feed

import (
	"time"

	"github.com/okian/scoreboard/pkg/logger"
)

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock sets the timestamp source for messages.
func WithClock(clock func() time.Time) Option {
	return func(h *Hub) {
		if clock != nil {
			h.clock = clock
		}
	}
}
