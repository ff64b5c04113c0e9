package omemodr

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultVersion is the protocol version new sessions are built with.
	DefaultVersion = 3

	// DefaultMaxFutureMessages is how far ahead of its chain a message may be.
	DefaultMaxFutureMessages = 2000
)

type config struct {
	rand              io.Reader
	log               logrus.FieldLogger
	metrics           *Metrics
	version           uint32
	maxFutureMessages uint32
}

// Option configures a SessionBuilder or SessionCipher.
type Option func(*config) error

func newConfig(opts []Option) (config, error) {
	c := config{
		rand:              rand.Reader,
		log:               logrus.StandardLogger(),
		version:           DefaultVersion,
		maxFutureMessages: DefaultMaxFutureMessages,
	}
	for i := range opts {
		if err := opts[i](&c); err != nil {
			return c, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return c, nil
}

// WithRand sets the randomness source for key generation.
func WithRand(r io.Reader) Option {
	return func(c *config) error {
		if r == nil {
			return fmt.Errorf("rand must not be nil")
		}
		c.rand = r
		return nil
	}
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) error {
		if l == nil {
			return fmt.Errorf("logger must not be nil")
		}
		c.log = l
		return nil
	}
}

// WithMetrics enables outcome counters.
func WithMetrics(m *Metrics) Option {
	return func(c *config) error {
		if m == nil {
			return fmt.Errorf("metrics must not be nil")
		}
		c.metrics = m
		return nil
	}
}

// WithVersion selects the protocol version for sessions built from bundles.
// Version 4 requires Ed25519 identity keys.
func WithVersion(v uint32) Option {
	return func(c *config) error {
		if v != 3 && v != 4 {
			return fmt.Errorf("%w: %d", ErrInvalidVersion, v)
		}
		c.version = v
		return nil
	}
}

// WithMaxFutureMessages limits how many message keys a single message may
// make the receiver derive ahead of its chain.
func WithMaxFutureMessages(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("n must be non-negative")
		}
		c.maxFutureMessages = uint32(n)
		return nil
	}
}
