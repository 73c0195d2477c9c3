package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tastythames/blast-runner/internal/remote"
)

type fakeSession struct {
	mu        sync.Mutex
	target    remote.Target
	healthy   bool
	reachable bool
	block     chan struct{}
	ensured   int
}

func (f *fakeSession) IsHealthy(context.Context) bool {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeSession) EnsureConnected(context.Context, remote.Target) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured++
	f.healthy = f.reachable
	return f.healthy
}

func (f *fakeSession) Target() remote.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

func newMonitor(s Session, interval time.Duration) *Monitor {
	return NewMonitor(s, Options{Interval: interval, Logger: zerolog.Nop()})
}

func TestCheckHealthy(t *testing.T) {
	s := &fakeSession{target: remote.Target{Host: "h"}, healthy: true}
	m := newMonitor(s, time.Second)
	if !m.Check(context.Background()) {
		t.Fatal("healthy session reported down")
	}
	checks, reconnects, failures, _ := m.Stats()
	if checks != 1 || reconnects != 0 || failures != 0 {
		t.Errorf("stats = %d %d %d", checks, reconnects, failures)
	}
	if s.ensured != 0 {
		t.Error("healthy session was reconnected")
	}
}

func TestCheckReconnects(t *testing.T) {
	s := &fakeSession{target: remote.Target{Host: "h"}, reachable: true}
	m := newMonitor(s, time.Second)
	if !m.Check(context.Background()) {
		t.Fatal("reachable host not restored")
	}
	if _, reconnects, _, _ := m.Stats(); reconnects != 1 {
		t.Errorf("reconnects = %d", reconnects)
	}
}

func TestCheckUnreachable(t *testing.T) {
	s := &fakeSession{target: remote.Target{Host: "h"}}
	m := newMonitor(s, time.Second)
	for i := 0; i < 2; i++ {
		if m.Check(context.Background()) {
			t.Fatal("unreachable host reported up")
		}
	}
	if m.Up() {
		t.Error("Up after failed checks")
	}
	if _, _, failures, _ := m.Stats(); failures != 2 {
		t.Errorf("failures = %d", failures)
	}

	s.mu.Lock()
	s.reachable = true
	s.mu.Unlock()
	if !m.Check(context.Background()) || !m.Up() {
		t.Error("monitor did not recover")
	}
}

func TestCheckWithoutTarget(t *testing.T) {
	m := newMonitor(&fakeSession{}, time.Second)
	if m.Check(context.Background()) {
		t.Error("no target should not be up")
	}
	if checks, _, _, _ := m.Stats(); checks != 0 {
		t.Errorf("checks = %d", checks)
	}
}

func TestRunChecksImmediatelyAndOnTicks(t *testing.T) {
	s := &fakeSession{target: remote.Target{Host: "h"}, healthy: true}
	m := newMonitor(s, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	if checks, _, _, _ := m.Stats(); checks < 3 {
		t.Errorf("checks = %d, want at least 3", checks)
	}
}

func TestRunSkipsOverlappingChecks(t *testing.T) {
	block := make(chan struct{})
	s := &fakeSession{target: remote.Target{Host: "h"}, healthy: true, block: block}
	m := newMonitor(s, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	close(block)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	checks, _, _, skipped := m.Stats()
	if checks != 1 {
		t.Errorf("checks = %d, want 1 while the first was blocked", checks)
	}
	if skipped == 0 {
		t.Error("no ticks skipped")
	}
}
