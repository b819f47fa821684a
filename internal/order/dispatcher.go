package order

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lnlrnzn/trumptrader/internal/engine"
	"github.com/lnlrnzn/trumptrader/internal/events"
)

var (
	// ErrBusy is returned when a trade is in flight or the queue is full.
	ErrBusy = errors.New("dispatcher busy: trade in flight")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Executor runs one trade sequence to completion.
type Executor interface {
	ExecuteTrade(ctx context.Context, d engine.Decision, o engine.Overrides) engine.Result
}

// Dispatcher feeds signals to a single worker so that trade sequences never
// overlap. A signal holds one unit of capacity from acceptance until its trade
// returns; with the default capacity of one, signals are refused while another
// is queued or running.
type Dispatcher struct {
	exec     Executor
	queue    *Queue
	capacity int64
	bus      *events.Bus
	log      *logrus.Logger
	resultCh chan ExecutionResult

	inflight    atomic.Bool
	outstanding atomic.Int64
	accepted    atomic.Uint64
	rejected    atomic.Uint64

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with a bounded queue.
func NewDispatcher(exec Executor, capacity int, bus *events.Bus, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Dispatcher{
		exec:     exec,
		queue:    NewQueue(capacity),
		capacity: int64(capacity),
		bus:      bus,
		log:      logger,
		resultCh: make(chan ExecutionResult, 100),
	}
}

// Start launches the worker. It stops when ctx is cancelled or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.queue.Drain(ctx, func(s Signal) { d.run(ctx, s) })
	}()
}

// Submit queues a signal. It never blocks.
func (d *Dispatcher) Submit(s Signal) (Signal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return s, ErrClosed
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Decision.ID == "" {
		s.Decision.ID = s.ID
	}
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = time.Now()
	}

	if !d.reserve() {
		return s, d.reject(s)
	}
	if !d.queue.TryEnqueue(s) {
		d.outstanding.Add(-1)
		return s, d.reject(s)
	}
	d.accepted.Add(1)
	d.bus.Publish(events.EventSignalReceived, s)
	return s, nil
}

// reserve claims a slot for one signal until its trade returns.
func (d *Dispatcher) reserve() bool {
	for {
		n := d.outstanding.Load()
		if n >= d.capacity {
			return false
		}
		if d.outstanding.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (d *Dispatcher) reject(s Signal) error {
	d.rejected.Add(1)
	d.log.WithFields(logrus.Fields{"signal_id": s.ID, "signal": s.Decision.Signal}).Warn("signal rejected, trade in flight")
	return ErrBusy
}

func (d *Dispatcher) run(ctx context.Context, s Signal) {
	d.inflight.Store(true)
	defer func() {
		d.inflight.Store(false)
		d.outstanding.Add(-1)
	}()

	start := time.Now()
	res := d.exec.ExecuteTrade(ctx, s.Decision, s.Overrides)
	result := ExecutionResult{
		SignalID:  s.ID,
		Result:    res,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}

	entry := d.log.WithFields(logrus.Fields{
		"signal_id": s.ID,
		"latency":   result.Latency.String(),
	})
	if res.Success {
		entry.Info("signal executed")
	} else {
		entry.WithField("error", res.Error).Warn("signal not executed")
	}

	select {
	case d.resultCh <- result:
	default:
		d.log.WithField("signal_id", s.ID).Warn("result channel full, dropping result")
	}
}

// Results returns the result channel for monitoring.
func (d *Dispatcher) Results() <-chan ExecutionResult {
	return d.resultCh
}

// Busy reports whether a trade sequence is running.
func (d *Dispatcher) Busy() bool {
	return d.inflight.Load()
}

// Pending returns the number of queued signals.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Counts returns accepted and rejected submissions.
func (d *Dispatcher) Counts() (accepted, rejected uint64) {
	return d.accepted.Load(), d.rejected.Load()
}

// Close stops accepting signals, lets queued ones finish and closes Results.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queue.Close()
	d.mu.Unlock()

	d.wg.Wait()
	close(d.resultCh)
}
