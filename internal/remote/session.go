// Package remote owns the single persistent connection to the compute host
// and the thin command runner the jobs use on top of it.
package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CommandResult is the outcome of one remote command. A non-zero exit code
// is data, not an error.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// TimeoutExitCode marks a command that did not finish within its timeout.
const TimeoutExitCode = -1

// Target identifies the host and credentials of a session.
type Target struct {
	Host   string
	User   string
	Secret string
}

// Transport is one authenticated connection. Implementations are not
// required to be safe for concurrent use; Session serialises access.
type Transport interface {
	Exec(ctx context.Context, cmd string) (CommandResult, error)
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	Close() error
}

// Dialer opens new transports.
type Dialer interface {
	Dial(ctx context.Context, t Target) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, t Target) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, t Target) (Transport, error) { return f(ctx, t) }

// HealthCommand is the no-op used for liveness checks.
const HealthCommand = "true"

const (
	defaultHealthTimeout = 5 * time.Second
	timeoutGrace         = 2 * time.Second
)

// Session holds at most one live transport. Every operation on it takes the
// same lock, so a health check never overlaps an in-flight command.
type Session struct {
	dialer         Dialer
	connectTimeout time.Duration
	healthTimeout  time.Duration
	log            zerolog.Logger

	mu     sync.Mutex
	tr     Transport
	target Target
}

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.log = l } }

func WithHealthTimeout(d time.Duration) Option {
	return func(s *Session) { s.healthTimeout = d }
}

func NewSession(d Dialer, connectTimeout time.Duration, opts ...Option) *Session {
	s := &Session{
		dialer:         d,
		connectTimeout: connectTimeout,
		healthTimeout:  defaultHealthTimeout,
		log:            zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect replaces any held transport with a new one.
func (s *Session) Connect(ctx context.Context, t Target, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx, t, timeout)
}

func (s *Session) connectLocked(ctx context.Context, t Target, timeout time.Duration) error {
	s.releaseLocked()

	if timeout <= 0 {
		timeout = s.connectTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tr, err := s.dialer.Dial(ctx, t)
	if err != nil {
		s.log.Warn().Str("host", t.Host).Err(err).Msg("connect failed")
		return &ConnectError{Host: t.Host, Err: err}
	}
	s.tr = tr
	s.target = t
	s.log.Info().Str("host", t.Host).Str("user", t.User).Msg("connected")
	return nil
}

// IsHealthy runs the no-op command. It never changes session state.
func (s *Session) IsHealthy(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthyLocked(ctx)
}

func (s *Session) healthyLocked(ctx context.Context) bool {
	if s.tr == nil {
		return false
	}
	res, err := s.execLocked(ctx, HealthCommand, s.healthTimeout)
	return err == nil && res.ExitCode == 0
}

// EnsureConnected is the only self-healing path: keep a healthy transport,
// otherwise drop it and make exactly one connect attempt.
func (s *Session) EnsureConnected(ctx context.Context, t Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.healthyLocked(ctx) {
		return true
	}
	if s.tr != nil {
		s.log.Warn().Str("host", s.target.Host).Msg("health check failed, reconnecting")
	}
	s.releaseLocked()
	_ = s.connectLocked(ctx, t, 0)
	return s.tr != nil
}

// Disconnect releases the transport. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *Session) releaseLocked() {
	if s.tr == nil {
		return
	}
	if err := s.tr.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close transport")
	}
	s.tr = nil
}

// Connected reports whether a transport is currently held.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr != nil
}

// Target returns the last target that connected successfully.
func (s *Session) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Exec runs cmd and returns within timeout plus a short grace period even
// when the transport does not honour cancellation. A timed-out command
// yields TimeoutExitCode.
func (s *Session) Exec(ctx context.Context, cmd string, timeout time.Duration) (CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return CommandResult{}, ErrNotConnected
	}
	return s.execLocked(ctx, cmd, timeout)
}

func (s *Session) execLocked(ctx context.Context, cmd string, timeout time.Duration) (CommandResult, error) {
	tr := s.tr
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		res CommandResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := tr.Exec(cctx, cmd)
		done <- result{res: r, err: err}
	}()

	timedOut := func() (CommandResult, error) {
		if ctx.Err() != nil {
			return CommandResult{}, ctx.Err()
		}
		return CommandResult{
			ExitCode: TimeoutExitCode,
			Stderr:   fmt.Sprintf("command timed out after %s", timeout),
		}, nil
	}

	select {
	case r := <-done:
		if r.err != nil && cctx.Err() != nil {
			return timedOut()
		}
		return r.res, r.err
	case <-cctx.Done():
	}

	// give the transport a moment to report its own kill
	grace := time.NewTimer(timeoutGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		s.log.Warn().Str("cmd", cmd).Msg("transport ignored cancellation")
	}
	return timedOut()
}

// Upload copies a local file to the remote host.
func (s *Session) Upload(ctx context.Context, localPath, remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return &TransferError{Op: "upload", Path: localPath, Err: ErrNotConnected}
	}
	if err := s.tr.Upload(ctx, localPath, remotePath); err != nil {
		return &TransferError{Op: "upload", Path: localPath, Err: err}
	}
	return nil
}

// Download copies a remote file to the local host.
func (s *Session) Download(ctx context.Context, remotePath, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return &TransferError{Op: "download", Path: remotePath, Err: ErrNotConnected}
	}
	if err := s.tr.Download(ctx, remotePath, localPath); err != nil {
		return &TransferError{Op: "download", Path: remotePath, Err: err}
	}
	return nil
}
