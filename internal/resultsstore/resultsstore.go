// Package resultsstore implements ResultsStore (§4.12): the per-request,
// single-writer sink for result rows and the final summary. Shares the
// FIFO-background-writer shape of eventlog, but is scoped to one request
// ("no cross-request interleaving; each request has its own writer" §4.12)
// so it carries no cross-request state at all.
package resultsstore

import (
	"sync"

	"github.com/basisdesk/engine/internal/types"
	"go.uber.org/zap"
)

// Sink durably persists result rows and the final summary. WriteRow and
// Finalize are both called only from the store's single background
// goroutine.
type Sink interface {
	WriteRow(row types.ResultRow) error
	Finalize(summary types.Summary) error
	Close() error
}

type job struct {
	row      *types.ResultRow
	summary  *types.Summary
}

// Store is the per-request ResultsStore.
type Store struct {
	logger *zap.Logger
	sink   Sink

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []job
	closed bool

	writerDone chan struct{}
	errMu      sync.Mutex
	err        error
}

// New starts the background writer for one request.
func New(logger *zap.Logger, sink Sink) *Store {
	s := &Store{
		logger:     logger,
		sink:       sink,
		writerDone: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.writeLoop()
	return s
}

// Append enqueues one result row (§4.1 step 7, once per timestep). It
// never blocks on I/O.
func (s *Store) Append(row types.ResultRow) {
	s.enqueue(job{row: &row})
}

// Finalize enqueues the terminal summary. Callers must not call Append
// after Finalize.
func (s *Store) Finalize(summary types.Summary) {
	s.enqueue(job{summary: &summary})
}

func (s *Store) enqueue(j job) {
	s.mu.Lock()
	s.queue = append(s.queue, j)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Store) writeLoop() {
	defer close(s.writerDone)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		j := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		var err error
		if j.row != nil {
			err = s.sink.WriteRow(*j.row)
		} else {
			err = s.sink.Finalize(*j.summary)
		}
		if err != nil {
			s.logger.Error("results store write failed", zap.Error(err))
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
		}
	}
}

// Close drains the queue and blocks until every enqueued row/summary has
// been written, then closes the sink.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	<-s.writerDone

	s.errMu.Lock()
	err := s.err
	s.errMu.Unlock()

	if sinkErr := s.sink.Close(); sinkErr != nil && err == nil {
		err = sinkErr
	}
	return err
}
