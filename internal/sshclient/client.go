package sshclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tastythames/blast-runner/internal/remote"
)

// Conn is one authenticated SSH connection. It implements remote.Transport.
type Conn struct {
	client *ssh.Client

	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dialer returns a remote.Dialer that opens connections with cfg.
func Dialer(cfg Config) remote.Dialer {
	return remote.DialerFunc(func(ctx context.Context, t remote.Target) (remote.Transport, error) {
		return Dial(ctx, cfg, t.Host, t.User, t.Secret)
	})
}

// Dial connects to host using username/password.
func Dial(ctx context.Context, cfg Config, host, user, password string) (*Conn, error) {
	if user == "" {
		return nil, fmt.Errorf("ssh user is empty")
	}
	if password == "" {
		return nil, fmt.Errorf("ssh password is empty")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))

	hk, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            user,
		HostKeyCallback: hk,
		Timeout:         cfg.Timeout,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_user, _instruction string, questions []string, _echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// the handshake can hang without a deadline on the raw conn
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	cconn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	// persistent connection from here on
	_ = conn.SetDeadline(time.Time{})

	c := &Conn{
		client: ssh.NewClient(cconn, chans, reqs),
		stop:   make(chan struct{}),
	}
	if cfg.KeepAlive > 0 {
		go c.keepAlive(cfg.KeepAlive)
	}
	return c, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	hk, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return hk, nil
}

func (c *Conn) keepAlive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		}
	}
}

// Exec runs cmd in a fresh session. The exit status is returned as data;
// only transport failures and ctx expiry are errors.
func (c *Conn) Exec(ctx context.Context, cmd string) (remote.CommandResult, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return remote.CommandResult{}, err
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		// best-effort terminate
		_ = sess.Signal(ssh.SIGKILL)
		return remote.CommandResult{}, ctx.Err()
	case err := <-done:
		res := remote.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, err
	}
}

// Upload copies localPath to remotePath over a short-lived SFTP channel.
func (c *Conn) Upload(ctx context.Context, localPath, remotePath string) error {
	sc, err := sftp.NewClient(c.client)
	if err != nil {
		return fmt.Errorf("open sftp: %w", err)
	}
	defer sc.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := sc.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}
	defer dst.Close()

	_, err = io.Copy(dst, readerWithContext(ctx, src))
	return err
}

// Download copies remotePath to localPath over a short-lived SFTP channel.
func (c *Conn) Download(ctx context.Context, remotePath, localPath string) error {
	sc, err := sftp.NewClient(c.client)
	if err != nil {
		return fmt.Errorf("open sftp: %w", err)
	}
	defer sc.Close()

	src, err := sc.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, readerWithContext(ctx, src)); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// Close stops keep-alives and closes the connection. Safe to call twice.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
