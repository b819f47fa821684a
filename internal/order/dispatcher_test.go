package order

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/internal/engine"
	"github.com/lnlrnzn/trumptrader/internal/events"
)

type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (b *blockingExecutor) ExecuteTrade(ctx context.Context, d engine.Decision, _ engine.Overrides) engine.Result {
	b.calls.Add(1)
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return engine.Result{Error: ctx.Err().Error()}
	}
	return engine.Result{Success: true, Position: &engine.Position{DecisionID: d.ID}}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func longSignal() Signal {
	return Signal{Decision: engine.Decision{Signal: engine.SignalLong, Confidence: 90}}
}

func TestDispatcherRejectsWhileInFlight(t *testing.T) {
	exec := newBlockingExecutor()
	bus := events.NewBus()
	received, unsub := bus.Subscribe(events.EventSignalReceived, 4)
	defer unsub()

	d := NewDispatcher(exec, 1, bus, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	first, err := d.Submit(longSignal())
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if first.ID == "" || first.Decision.ID != first.ID {
		t.Fatalf("ids not assigned: %+v", first)
	}

	select {
	case <-exec.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never picked up the signal")
	}
	if !d.Busy() {
		t.Fatalf("dispatcher should be busy")
	}
	if _, err := d.Submit(longSignal()); !errors.Is(err, ErrBusy) {
		t.Fatalf("Submit during flight err=%v, expected ErrBusy", err)
	}

	close(exec.release)
	select {
	case res := <-d.Results():
		if !res.Result.Success || res.SignalID != first.ID {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no result")
	}

	if accepted, rejected := d.Counts(); accepted != 1 || rejected != 1 {
		t.Fatalf("counts=%d/%d, expected 1/1", accepted, rejected)
	}
	select {
	case <-received:
	default:
		t.Fatalf("signal.received not published")
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	exec := newBlockingExecutor()
	d := NewDispatcher(exec, 1, nil, quietLogger())

	if _, err := d.Submit(longSignal()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := d.Submit(longSignal()); !errors.Is(err, ErrBusy) {
		t.Fatalf("err=%v, expected ErrBusy on full queue", err)
	}
	if d.Pending() != 1 {
		t.Fatalf("Pending=%d, expected 1", d.Pending())
	}
}

func TestDispatcherClose(t *testing.T) {
	exec := newBlockingExecutor()
	close(exec.release)
	d := NewDispatcher(exec, 1, nil, quietLogger())
	d.Start(context.Background())

	if _, err := d.Submit(longSignal()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.Close()
	d.Close()

	if _, err := d.Submit(longSignal()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, expected ErrClosed", err)
	}
	if exec.calls.Load() != 1 {
		t.Fatalf("queued signal not executed before close")
	}
	if _, ok := <-d.Results(); !ok {
		t.Fatalf("expected the buffered result before channel close")
	}
	if _, ok := <-d.Results(); ok {
		t.Fatalf("results channel should be closed")
	}
}

func TestDispatcherRejectsBetweenDequeueAndRun(t *testing.T) {
	exec := newBlockingExecutor()
	close(exec.release)
	d := NewDispatcher(exec, 1, nil, quietLogger())

	if _, err := d.Submit(longSignal()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// The worker has taken the signal but not started the trade yet.
	taken := <-d.queue.ch

	if _, err := d.Submit(longSignal()); !errors.Is(err, ErrBusy) {
		t.Fatalf("err=%v, expected ErrBusy while %s is being handed to the engine", err, taken.ID)
	}

	d.run(context.Background(), taken)
	if _, err := d.Submit(longSignal()); err != nil {
		t.Fatalf("Submit after trade returned: %v", err)
	}
}
