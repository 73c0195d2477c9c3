package remote

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when no live transport is available.
var ErrNotConnected = errors.New("ssh not connected")

// ConnectError wraps an authentication, network or handshake failure.
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransferError reports a failed upload or download.
type TransferError struct {
	Op   string // "upload" or "download"
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
