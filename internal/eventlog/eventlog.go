// Package eventlog implements EventLogger (§4.11): the totally ordered,
// append-only audit trail every other component writes to. Grounded on the
// teacher's events.EventBus channel/worker shape, but collapsed to exactly
// one background writer goroutine per §4.13's "the only async boundaries
// are the EventLogger and ResultsStore background writers" — this is not a
// fan-out bus, it is a single ordered sink.
package eventlog

import (
	"sync"
	"time"

	"github.com/basisdesk/engine/internal/types"
	"go.uber.org/zap"
)

// Sink durably persists events in the order they are handed to it. Write
// is called from exactly one goroutine; implementations need no internal
// locking on the write path.
type Sink interface {
	Write(event types.Event) error
	Close() error
}

// DefaultHighWaterMark bounds the FIFO when the sink falls behind or is
// unavailable (§4.11 "buffer up to configured high-water mark, then drop
// with CRITICAL").
const DefaultHighWaterMark = 100000

// EventLogger assigns order_within_T, queues events on a FIFO bounded by a
// high-water mark, and drains them to Sink from a single background
// goroutine.
type EventLogger struct {
	logger        *zap.Logger
	sink          Sink
	highWaterMark int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []types.Event
	inFlight bool
	closed   bool
	dropped  uint64

	counterMu    sync.Mutex
	counterT     time.Time
	counter      int
	haveCounterT bool

	writerDone chan struct{}
	writeErrMu sync.Mutex
	writeErr   error
}

// New starts the background writer and returns the logger. highWaterMark
// <= 0 selects DefaultHighWaterMark.
func New(logger *zap.Logger, sink Sink, highWaterMark int) *EventLogger {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	l := &EventLogger{
		logger:        logger,
		sink:          sink,
		highWaterMark: highWaterMark,
		writerDone:    make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.writeLoop()
	return l
}

// nextOrderWithinT returns the next 1-based order_within_T for t,
// resetting the counter whenever t advances (§3 "Event... totally ordered
// by (T, order_within_T)").
func (l *EventLogger) nextOrderWithinT(t types.Timestamp) int {
	l.counterMu.Lock()
	defer l.counterMu.Unlock()
	if !l.haveCounterT || !t.Equal(l.counterT) {
		l.counterT = t
		l.counter = 0
		l.haveCounterT = true
	}
	l.counter++
	return l.counter
}

// Append assigns order_within_T to ev.T and enqueues the event for durable
// persistence. It never blocks on I/O. Once the queue reaches
// highWaterMark (the sink has fallen behind or is unavailable) the event
// is dropped and a CRITICAL is logged instead of blocking the caller.
func (l *EventLogger) Append(ev types.Event) types.Event {
	ev.OrderWithinT = l.nextOrderWithinT(ev.T)

	l.mu.Lock()
	if len(l.queue) >= l.highWaterMark {
		l.dropped++
		dropped := l.dropped
		l.mu.Unlock()
		l.logger.Error("event dropped: high-water mark exceeded",
			zap.Time("T", ev.T), zap.Int("order_within_T", ev.OrderWithinT),
			zap.Int("highWaterMark", l.highWaterMark), zap.Uint64("totalDropped", dropped))
		return ev
	}
	l.queue = append(l.queue, ev)
	l.mu.Unlock()
	l.cond.Signal()

	return ev
}

func (l *EventLogger) writeLoop() {
	defer close(l.writerDone)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		ev := l.queue[0]
		l.queue = l.queue[1:]
		l.inFlight = true
		l.mu.Unlock()

		if err := l.sink.Write(ev); err != nil {
			l.logger.Error("event sink write failed",
				zap.Time("T", ev.T), zap.Int("order_within_T", ev.OrderWithinT), zap.Error(err))
			l.writeErrMu.Lock()
			l.writeErr = err
			l.writeErrMu.Unlock()
		}

		l.mu.Lock()
		l.inFlight = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// FlushBoundary blocks until every event enqueued so far has been written,
// including one already dequeued and mid-write, giving the Engine a
// durability boundary between timesteps (§4.1 step 8
// "EventLogger.flush_boundary(current_T)"). It does not stop the
// background writer.
func (l *EventLogger) FlushBoundary() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for (len(l.queue) > 0 || l.inFlight) && !l.closed {
		l.cond.Wait()
	}
}

// Close drains the remaining queue and stops the background writer. It
// blocks until every already-enqueued event has been written.
func (l *EventLogger) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()
	<-l.writerDone

	l.writeErrMu.Lock()
	err := l.writeErr
	l.writeErrMu.Unlock()

	if sinkErr := l.sink.Close(); sinkErr != nil && err == nil {
		err = sinkErr
	}
	return err
}

// Pending reports the current queue depth, used by readiness checks.
func (l *EventLogger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
