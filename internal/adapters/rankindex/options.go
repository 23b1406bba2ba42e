package rankindex

import "github.com/okian/scoreboard/pkg/logger"

// Option applies a configuration option to the TreapIndex.
type Option func(*TreapIndex)

// WithSeed makes node priorities reproducible. Intended for tests.
func WithSeed(seed uint64) Option {
	return func(x *TreapIndex) {
		x.seed = seed
		x.seeded = true
	}
}

// WithLogger sets the logger used by the index.
func WithLogger(l logger.Logger) Option {
	return func(x *TreapIndex) {
		if l != nil {
			x.log = l
		}
	}
}
