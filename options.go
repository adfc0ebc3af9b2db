package mplex

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Package-level defaults. These mirror the tunables the reference
// implementation exposes as bare package vars; they're kept as the
// defaults behind the Option constructors below so existing behavior is
// unchanged unless a caller opts in to something else.
var (
	// MaxMessageSize bounds the payload size of a single frame.
	MaxMessageSize = 1 << 20
	// MaxBuffers bounds how many in-flight buffers a Multiplex will pool.
	MaxBuffers = 4
	// ReceiveTimeout is how long the read loop will wait for a slow
	// stream consumer to drain its inbox before resetting that stream.
	ReceiveTimeout = 5 * time.Second
	// ResetStreamTimeout bounds how long sending a Reset frame may block.
	ResetStreamTimeout = 2 * time.Minute
	// WriteCoalesceDelay is reserved for a future batching writer; it is
	// not yet consulted by the writer goroutine.
	WriteCoalesceDelay = 100 * time.Microsecond
)

// options collects the tunables a Multiplex is constructed with. It is
// built from Option funcs applied, in order, over the package defaults.
type options struct {
	maxMessageSize     int
	maxBuffers         int
	receiveTimeout     time.Duration
	resetStreamTimeout time.Duration
	writeCoalesceDelay time.Duration
	memoryManager      MemoryManager
	metrics            *Metrics
}

func defaultOptions() *options {
	return &options{
		maxMessageSize:     MaxMessageSize,
		maxBuffers:         MaxBuffers,
		receiveTimeout:     ReceiveTimeout,
		resetStreamTimeout: ResetStreamTimeout,
		writeCoalesceDelay: WriteCoalesceDelay,
		memoryManager:      &nullMemoryManager{},
	}
}

// Option configures a Multiplex at construction time, following the
// Option func(*T) idiom (github.com/moby/moby's vendored containerd NRI
// network multiplexer: internal/multiplex.Option / WithBlockedRead /
// WithReadQueueLength is the clearest example of this idiom in the pack).
type Option func(*options) error

// WithMaxMessageSize overrides the maximum accepted frame payload size.
func WithMaxMessageSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("mplex: max message size must be positive")
		}
		o.maxMessageSize = n
		return nil
	}
}

// WithMaxBuffers overrides how many in-flight buffers are pooled per
// direction, and therefore the depth of each stream's bounded inbox.
func WithMaxBuffers(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("mplex: max buffers must be positive")
		}
		o.maxBuffers = n
		return nil
	}
}

// WithReceiveTimeout overrides how long the read loop tolerates a slow
// stream consumer before resetting that single stream.
func WithReceiveTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("mplex: receive timeout must be positive")
		}
		o.receiveTimeout = d
		return nil
	}
}

// WithResetStreamTimeout overrides how long emitting a Reset frame may
// block before the frame is given up on; the failure is logged and the
// connection stays up.
func WithResetStreamTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("mplex: reset stream timeout must be positive")
		}
		o.resetStreamTimeout = d
		return nil
	}
}

// WithMemoryManager supplies a MemoryManager that gates buffer
// reservations; the default is a manager that grants every request.
func WithMemoryManager(m MemoryManager) Option {
	return func(o *options) error {
		if m == nil {
			return errors.New("mplex: memory manager must not be nil")
		}
		o.memoryManager = m
		return nil
	}
}

// WithMetricsRegisterer registers the Multiplex's stream counters with reg.
// Registration failures are wrapped with context and surfaced from
// NewMultiplex; metrics are entirely optional, so omitting this option
// leaves the Multiplex's metrics nil-safe and inert.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		m, err := newMetrics(reg)
		if err != nil {
			return errors.Wrap(err, "mplex: registering metrics")
		}
		o.metrics = m
		return nil
	}
}
