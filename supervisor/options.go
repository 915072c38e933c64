package supervisor

import (
	"log/slog"
	"time"
)

// Default timings per §4.C / §6.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultReadyTimeout   = 30 * time.Second
	DefaultMaxRestarts    = 3
	DefaultRestartDelay   = 1 * time.Second
)

// Callbacks is the user-supplied callback set a host wires to observe
// supervisor lifecycle events (§6). Every field is optional.
type Callbacks struct {
	// OnLog receives every tagged line read from the child's standard
	// error, including the readiness line.
	OnLog func(line string)
	// OnExit fires once per child exit, before any restart attempt.
	OnExit func(err error)
	// OnRestart fires after a crash, once a respawn has been scheduled.
	OnRestart func(attempt int)
	// OnMaxRestartsExceeded fires when restartCount reaches MaxRestarts
	// and the supervisor gives up for good.
	OnMaxRestartsExceeded func()
}

// Options configures a Supervisor.
type Options struct {
	RequestTimeout time.Duration
	ReadyTimeout   time.Duration
	MaxRestarts    int
	RestartDelay   time.Duration
	Callbacks      Callbacks
	Logger         *slog.Logger
	Resolver       LaunchResolver
}

func defaultOptions() Options {
	return Options{
		RequestTimeout: DefaultRequestTimeout,
		ReadyTimeout:   DefaultReadyTimeout,
		MaxRestarts:    DefaultMaxRestarts,
		RestartDelay:   DefaultRestartDelay,
		Logger:         slog.Default(),
		Resolver:       DefaultLaunchResolver,
	}
}

// Option customizes a Supervisor at construction time.
type Option func(*Options)

// WithRequestTimeout overrides the per-send() timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = d }
}

// WithReadyTimeout overrides how long start() waits for the readiness line.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *Options) { o.ReadyTimeout = d }
}

// WithMaxRestarts overrides the bounded-restart limit.
func WithMaxRestarts(n int) Option {
	return func(o *Options) { o.MaxRestarts = n }
}

// WithRestartDelay overrides the delay before a post-crash respawn.
func WithRestartDelay(d time.Duration) Option {
	return func(o *Options) { o.RestartDelay = d }
}

// WithCallbacks installs the lifecycle callback set.
func WithCallbacks(cb Callbacks) Option {
	return func(o *Options) { o.Callbacks = cb }
}

// WithLogger overrides the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithLaunchResolver overrides how a plugin descriptor becomes a command
// line (default DefaultLaunchResolver).
func WithLaunchResolver(r LaunchResolver) Option {
	return func(o *Options) { o.Resolver = r }
}
