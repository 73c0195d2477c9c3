package remote

import (
	"context"
	"time"
)

// Provider returns whatever session is current, or nil.
type Provider func() *Session

// Runner resolves the live session on every call so jobs keep working
// across a reconnect.
type Runner struct {
	current Provider
}

func NewRunner(p Provider) *Runner {
	return &Runner{current: p}
}

func (r *Runner) Run(ctx context.Context, cmd string, timeout time.Duration) (CommandResult, error) {
	s := r.current()
	if s == nil {
		return CommandResult{}, ErrNotConnected
	}
	return s.Exec(ctx, cmd, timeout)
}

func (r *Runner) Upload(ctx context.Context, localPath, remotePath string) error {
	s := r.current()
	if s == nil {
		return &TransferError{Op: "upload", Path: localPath, Err: ErrNotConnected}
	}
	return s.Upload(ctx, localPath, remotePath)
}

func (r *Runner) Download(ctx context.Context, remotePath, localPath string) error {
	s := r.current()
	if s == nil {
		return &TransferError{Op: "download", Path: remotePath, Err: ErrNotConnected}
	}
	return s.Download(ctx, remotePath, localPath)
}
