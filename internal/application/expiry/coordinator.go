// Package expiry reacts to credential expiry exactly once per episode:
// clear the session, tell the user, and send them back to the login entry
// after a short delay. Triggers arriving while an episode is in progress are
// swallowed.
package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tyust/tyust-client/pkg/logger"
)

// DefaultRedirectDelay is how long the expiry message stays visible before
// the redirect.
const DefaultRedirectDelay = 2 * time.Second

var (
	episodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tyust",
		Subsystem: "expiry",
		Name:      "episodes_total",
		Help:      "Number of credential expiry episodes handled",
	})

	suppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tyust",
		Subsystem: "expiry",
		Name:      "suppressed_triggers_total",
		Help:      "Number of expiry triggers ignored because an episode was in progress",
	})
)

// State of the coordinator.
type State int

const (
	StateIdle State = iota
	StateHandling
)

func (s State) String() string {
	if s == StateHandling {
		return "handling"
	}
	return "idle"
}

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// SessionClearer drops the local session.
type SessionClearer interface {
	ClearSession(ctx context.Context, preserveRememberedAccount bool) error
}

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Navigator replaces the whole navigation stack with the login entry.
type Navigator interface {
	RedirectToLogin(ctx context.Context)
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) *time.Timer

// ══════════════════════════════════════════════════════════════════════════════
// COORDINATOR
// ══════════════════════════════════════════════════════════════════════════════

// Coordinator is a two-state machine: Idle and Handling.
type Coordinator struct {
	session   SessionClearer
	notifier  Notifier
	navigator Navigator
	delay     time.Duration
	afterFunc AfterFunc
	log       *logger.Logger

	mu    sync.Mutex
	state State
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRedirectDelay overrides DefaultRedirectDelay.
func WithRedirectDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithAfterFunc replaces the scheduler.
func WithAfterFunc(fn AfterFunc) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.afterFunc = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(session SessionClearer, notifier Notifier, navigator Navigator, opts ...Option) *Coordinator {
	c := &Coordinator{
		session:   session,
		notifier:  notifier,
		navigator: navigator,
		delay:     DefaultRedirectDelay,
		afterFunc: time.AfterFunc,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("expiry"))
	return c
}

// Trigger starts an expiry episode. It returns false without side effects
// when an episode is already in progress.
func (c *Coordinator) Trigger(ctx context.Context, message string) bool {
	c.mu.Lock()
	if c.state == StateHandling {
		c.mu.Unlock()
		suppressedTotal.Inc()
		c.log.Debug("expiry already handling", logger.String("message", message))
		return false
	}
	c.state = StateHandling
	c.mu.Unlock()

	episodesTotal.Inc()
	c.log.Info("credential expired", logger.String("message", message))

	if err := c.session.ClearSession(ctx, true); err != nil {
		c.log.Error("clear session on expiry", logger.Err(err))
	}
	c.notifier.Notify(ctx, message)

	// The redirect outlives the request that triggered it.
	redirectCtx := context.WithoutCancel(ctx)
	c.afterFunc(c.delay, func() {
		c.navigator.RedirectToLogin(redirectCtx)
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.log.Debug("expiry episode finished")
	})
	return true
}

// IsHandling reports whether an episode is in progress.
func (c *Coordinator) IsHandling() bool {
	return c.State() == StateHandling
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
