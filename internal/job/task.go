package job

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

const eventBuffer = 128

// Func is the body of a job. It must return exactly one outcome and should
// check ctx at its safe points.
type Func func(ctx context.Context, rep *Reporter) Outcome

// Reporter pushes progress onto the task's event stream. Progress never
// blocks the job: when the caller falls behind, events are dropped.
type Reporter struct {
	id      string
	events  chan Event
	dropped atomic.Uint64
}

func (r *Reporter) send(ev Event) {
	// the task is the only sender; keeping one slot free guarantees the
	// terminal event always fits
	if len(r.events) >= cap(r.events)-1 {
		r.dropped.Add(1)
		return
	}
	r.events <- ev
}

// Message emits a status line.
func (r *Reporter) Message(format string, args ...any) {
	r.send(Event{JobID: r.id, Kind: EventMessage, Text: fmt.Sprintf(format, args...)})
}

// Percent emits a completion percentage clamped to [0,100].
func (r *Reporter) Percent(p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	r.send(Event{JobID: r.id, Kind: EventPercent, Percent: p})
}

// Dropped is the number of progress events discarded so far.
func (r *Reporter) Dropped() uint64 { return r.dropped.Load() }

// Task is a handle on one running job.
type Task struct {
	id     string
	kind   string
	cancel context.CancelFunc
	rep    *Reporter
	done   chan struct{}
	out    Outcome
}

// Start runs fn on its own goroutine.
func Start(ctx context.Context, kind string, fn Func) *Task {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	t := &Task{
		id:     id,
		kind:   kind,
		cancel: cancel,
		rep:    &Reporter{id: id, events: make(chan Event, eventBuffer)},
		done:   make(chan struct{}),
	}
	go t.run(ctx, fn)
	return t
}

func (t *Task) run(ctx context.Context, fn Func) {
	defer t.cancel()
	defer close(t.done)
	defer close(t.rep.events)

	out := func() (o Outcome) {
		defer func() {
			if r := recover(); r != nil {
				o = Failure(fmt.Sprintf("%s job crashed: %v", t.kind, r))
			}
		}()
		return fn(ctx, t.rep)
	}()

	t.out = out
	t.rep.events <- Event{JobID: t.id, Kind: EventDone, Text: out.Message, Outcome: &out}
}

func (t *Task) ID() string   { return t.id }
func (t *Task) Kind() string { return t.kind }

// Events is closed after the terminal EventDone.
func (t *Task) Events() <-chan Event { return t.rep.events }

// Cancel requests cooperative cancellation.
func (t *Task) Cancel() { t.cancel() }

// Done is closed once the job has fully stopped.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the job stops and returns its outcome.
func (t *Task) Wait() Outcome {
	<-t.done
	return t.out
}

// Dropped reports how many progress events were discarded.
func (t *Task) Dropped() uint64 { return t.rep.Dropped() }
