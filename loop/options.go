package loop

import "time"

type config struct {
	logger             Logger
	pollTimeout        time.Duration
	unhandledRejection func(reason error)
	clock              func() time.Time
}

// Option configures a [Loop] at construction time.
type Option func(*config)

// WithLogger sets the structured logger the loop reports its own operation
// to. The default is a no-op logger.
func WithLogger(logger Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPollTimeout bounds how long a single poll cycle may block waiting for
// I/O readiness when no timers are pending; it exists so Run can still
// notice Shutdown in a bounded amount of time. The default is 100ms.
func WithPollTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithUnhandledRejection installs the hook invoked when a promise scheduled
// on this loop rejects with no rejection handler ever attached (spec §7's
// "surfaced uncatchably" requirement). The default logs at LevelError and
// does not terminate the process; callers that want termination semantics
// should panic or call os.Exit from within the hook.
func WithUnhandledRejection(fn func(reason error)) Option {
	return func(c *config) {
		if fn != nil {
			c.unhandledRejection = fn
		}
	}
}

// WithClock overrides the loop's notion of the current time, for
// deterministic timer tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.clock = now
		}
	}
}

func defaultConfig() *config {
	return &config{
		logger:      noopLogger{},
		pollTimeout: 100 * time.Millisecond,
		clock:       time.Now,
	}
}
