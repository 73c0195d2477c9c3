// Package scheduler keeps the remote session alive with periodic health
// checks.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tastythames/blast-runner/internal/remote"
)

// Session is the part of *remote.Session the monitor drives.
type Session interface {
	IsHealthy(ctx context.Context) bool
	EnsureConnected(ctx context.Context, t remote.Target) bool
	Target() remote.Target
}

type Monitor struct {
	session  Session
	interval time.Duration
	jitter   time.Duration
	log      zerolog.Logger

	running atomic.Bool
	wg      sync.WaitGroup
	up      atomic.Bool

	// stats (atomic) for observability
	checks     atomic.Uint64
	reconnects atomic.Uint64
	failures   atomic.Uint64
	skipped    atomic.Uint64
}

type Options struct {
	Interval time.Duration
	Jitter   time.Duration
	Logger   zerolog.Logger
}

// NewMonitor creates a monitor for s.
// - Interval: base check interval
// - Jitter: random delay added each cycle (0..Jitter)
func NewMonitor(s Session, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	m := &Monitor{
		session:  s,
		interval: opts.Interval,
		jitter:   opts.Jitter,
		log:      opts.Logger.With().Str("component", "health").Logger(),
	}
	m.up.Store(true)
	return m
}

// Run checks once immediately and then on every tick until ctx is done. It
// returns after any in-flight check has finished.
func (m *Monitor) Run(ctx context.Context) {
	defer m.wg.Wait()

	m.kick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.jitter > 0 {
				delay := time.Duration(rand.Int63n(int64(m.jitter)))
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			m.kick(ctx)
		}
	}
}

// kick starts a check unless the previous one is still running.
func (m *Monitor) kick(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.skipped.Add(1)
		m.log.Debug().Msg("previous check still running, tick skipped")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.running.Store(false)
		m.Check(ctx)
	}()
}

// Check runs one health check synchronously and reconnects to the last
// known target if needed. It reports whether the session is usable.
func (m *Monitor) Check(ctx context.Context) bool {
	t := m.session.Target()
	if t.Host == "" {
		return false
	}
	m.checks.Add(1)

	if m.session.IsHealthy(ctx) {
		m.transition(true, t)
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	if m.session.EnsureConnected(ctx, t) {
		m.reconnects.Add(1)
		m.transition(true, t)
		return true
	}
	m.failures.Add(1)
	m.transition(false, t)
	return false
}

func (m *Monitor) transition(up bool, t remote.Target) {
	if m.up.Swap(up) == up {
		return
	}
	if up {
		m.log.Info().Str("host", t.Host).Msg("session restored")
	} else {
		m.log.Warn().Str("host", t.Host).Msg("session lost")
	}
}

// Up reports the result of the most recent check.
func (m *Monitor) Up() bool { return m.up.Load() }

func (m *Monitor) Stats() (checks, reconnects, failures, skipped uint64) {
	return m.checks.Load(), m.reconnects.Load(), m.failures.Load(), m.skipped.Load()
}
