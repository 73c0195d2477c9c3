package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu       sync.Mutex
	dead     bool
	closed   bool
	block    chan struct{} // Exec blocks on this, ignoring ctx, when set
	cmds     []string
	uploads  []string
	exitCode int
}

func (f *fakeTransport) Exec(ctx context.Context, cmd string) (CommandResult, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	dead, block, code := f.dead, f.block, f.exitCode
	f.mu.Unlock()
	if dead {
		return CommandResult{}, errors.New("transport is dead")
	}
	if block != nil && cmd != HealthCommand {
		<-block
	}
	return CommandResult{ExitCode: code, Stdout: "ran " + cmd}, nil
}

func (f *fakeTransport) Upload(_ context.Context, local, remote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return errors.New("channel refused")
	}
	f.uploads = append(f.uploads, local+"->"+remote)
	return nil
}

func (f *fakeTransport) Download(_ context.Context, _, _ string) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) kill() {
	f.mu.Lock()
	f.dead = true
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDialer struct {
	mu        sync.Mutex
	reachable bool
	dials     int
	last      *fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, _ Target) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if !d.reachable {
		return nil, errors.New("no route to host")
	}
	d.last = &fakeTransport{}
	return d.last, nil
}

func (d *fakeDialer) setReachable(v bool) {
	d.mu.Lock()
	d.reachable = v
	d.mu.Unlock()
}

var target = Target{Host: "10.0.0.1", User: "u", Secret: "p"}

func TestConnectReplacesPreviousTransport(t *testing.T) {
	d := &fakeDialer{reachable: true}
	s := NewSession(d, time.Second)
	ctx := context.Background()

	if err := s.Connect(ctx, target, 0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := d.last
	if err := s.Connect(ctx, target, 0); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if !first.isClosed() {
		t.Error("first transport must be closed before it is replaced")
	}
	if !s.Connected() {
		t.Error("session should be connected")
	}
	if got := s.Target(); got.Host != target.Host {
		t.Errorf("Target() = %+v", got)
	}
}

func TestConnectFailureIsConnectError(t *testing.T) {
	s := NewSession(&fakeDialer{}, time.Second)
	err := s.Connect(context.Background(), target, 0)
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("want *ConnectError, got %T %v", err, err)
	}
	if ce.Host != target.Host {
		t.Errorf("host = %q", ce.Host)
	}
	if s.Connected() {
		t.Error("session must stay disconnected")
	}
}

func TestEnsureConnectedAfterDropReconnects(t *testing.T) {
	d := &fakeDialer{reachable: true}
	s := NewSession(d, time.Second)
	ctx := context.Background()
	if err := s.Connect(ctx, target, 0); err != nil {
		t.Fatal(err)
	}
	dropped := d.last
	dropped.kill()

	if s.IsHealthy(ctx) {
		t.Fatal("dead transport reported healthy")
	}
	if !s.EnsureConnected(ctx, target) {
		t.Fatal("EnsureConnected should succeed against a reachable host")
	}
	if !dropped.isClosed() {
		t.Error("stale transport must be released before reconnecting")
	}
	if d.last == dropped {
		t.Error("expected a fresh transport")
	}
	res, err := s.Exec(ctx, "echo hi", time.Second)
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("Exec after heal: %+v %v", res, err)
	}
}

func TestEnsureConnectedUnreachableStaysDown(t *testing.T) {
	d := &fakeDialer{reachable: true}
	s := NewSession(d, time.Second)
	ctx := context.Background()
	if err := s.Connect(ctx, target, 0); err != nil {
		t.Fatal(err)
	}
	d.last.kill()
	d.setReachable(false)

	if s.EnsureConnected(ctx, target) {
		t.Fatal("EnsureConnected should fail when the host is unreachable")
	}
	if s.Connected() {
		t.Fatal("session should be disconnected")
	}
	// idempotent
	if s.EnsureConnected(ctx, target) {
		t.Fatal("second call should also fail")
	}
	if _, err := s.Exec(ctx, "ls", time.Second); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Exec err = %v, want ErrNotConnected", err)
	}
}

func TestEnsureConnectedHealthyDoesNotRedial(t *testing.T) {
	d := &fakeDialer{reachable: true}
	s := NewSession(d, time.Second)
	ctx := context.Background()
	if err := s.Connect(ctx, target, 0); err != nil {
		t.Fatal(err)
	}
	if !s.EnsureConnected(ctx, target) {
		t.Fatal("healthy session should stay connected")
	}
	if d.dials != 1 {
		t.Errorf("dials = %d, want 1", d.dials)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	d := &fakeDialer{reachable: true}
	s := NewSession(d, time.Second)
	if err := s.Connect(context.Background(), target, 0); err != nil {
		t.Fatal(err)
	}
	s.Disconnect()
	s.Disconnect()
	if s.Connected() {
		t.Fatal("still connected after Disconnect")
	}
	if !d.last.isClosed() {
		t.Fatal("transport not closed")
	}
}

func TestExecTimeoutIsEnforced(t *testing.T) {
	d := &fakeDialer{reachable: true}
	s := NewSession(d, time.Second)
	ctx := context.Background()
	if err := s.Connect(ctx, target, 0); err != nil {
		t.Fatal(err)
	}
	block := make(chan struct{})
	defer close(block)
	d.last.mu.Lock()
	d.last.block = block
	d.last.mu.Unlock()

	start := time.Now()
	res, err := s.Exec(ctx, "sleep 999", 100*time.Millisecond)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != TimeoutExitCode {
		t.Errorf("exit code = %d, want %d", res.ExitCode, TimeoutExitCode)
	}
	if elapsed > 100*time.Millisecond+timeoutGrace+500*time.Millisecond {
		t.Errorf("Exec took %v, timeout not enforced", elapsed)
	}
}

func TestNonZeroExitIsData(t *testing.T) {
	d := &fakeDialer{reachable: true}
	s := NewSession(d, time.Second)
	ctx := context.Background()
	if err := s.Connect(ctx, target, 0); err != nil {
		t.Fatal(err)
	}
	d.last.mu.Lock()
	d.last.exitCode = 2
	d.last.mu.Unlock()
	res, err := s.Exec(ctx, "false", time.Second)
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if res.ExitCode != 2 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
}

func TestTransferErrors(t *testing.T) {
	d := &fakeDialer{reachable: true}
	s := NewSession(d, time.Second)
	ctx := context.Background()

	err := s.Upload(ctx, "a", "b")
	var te *TransferError
	if !errors.As(err, &te) || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("upload without session: %v", err)
	}

	if err := s.Connect(ctx, target, 0); err != nil {
		t.Fatal(err)
	}
	d.last.kill()
	err = s.Upload(ctx, "a", "b")
	if !errors.As(err, &te) || te.Op != "upload" {
		t.Fatalf("upload over dead channel: %v", err)
	}
}
