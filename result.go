package pgcore

import (
	"context"
	"sync"
)

// Row is one decoded result row, indexed the same way as the column names
// returned by ResultStream.Names.
type Row []any

// Result is the eager {names, rows, status} mirror of a finished
// ResultStream (spec.md §4.8).
type Result struct {
	Names  []string
	Rows   []Row
	Status string
}

// ResultStream is both a lazy asynchronous sequence of rows (via Next) and,
// once fully drained, an eager mirror of everything received (via Collect).
// Rows pushed by the pipeline engine accumulate in an internal buffer that
// Next and Collect both read from, so calling one does not starve the
// other, and calling Reset after completion lets Next replay the same rows
// (spec.md §4.8 "idempotent re-iteration").
type ResultStream struct {
	mu   sync.Mutex
	cond *sync.Cond

	names      []string
	namesReady bool

	rows   []Row
	cursor int

	done   bool
	status string
	err    error
	doneCh chan struct{}
}

func newResultStream() *ResultStream {
	s := &ResultStream{doneCh: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// doneSignal returns a channel closed once the stream completes or fails,
// for callers that want to select on it alongside a context.
func (s *ResultStream) doneSignal() <-chan struct{} { return s.doneCh }

func (s *ResultStream) setColumns(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.names = names
	s.namesReady = true
	s.cond.Broadcast()
}

func (s *ResultStream) pushRow(values []any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = append(s.rows, Row(values))
	s.cond.Broadcast()
}

func (s *ResultStream) complete(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}

	s.done = true
	s.status = tag
	if !s.namesReady {
		s.namesReady = true
	}
	close(s.doneCh)
	s.cond.Broadcast()
}

func (s *ResultStream) fail(err *DatabaseError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}

	s.done = true
	s.err = err
	s.namesReady = true
	close(s.doneCh)
	s.cond.Broadcast()
}

// watchContext broadcasts on s.cond when ctx is canceled, so a blocked
// Names/Next call wakes up and observes ctx.Err(). The returned func must
// be called to stop the watcher once the caller is done waiting.
func (s *ResultStream) watchContext(ctx context.Context) func() {
	stop := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-stop:
		}
	}()

	return func() { close(stop) }
}

// Names blocks until the column names are known (the RowDescription has
// arrived) or the stream has failed.
func (s *ResultStream) Names(ctx context.Context) ([]string, error) {
	defer s.watchContext(ctx)()

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.namesReady {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.cond.Wait()
	}

	if s.err != nil {
		return nil, s.err
	}

	return s.names, nil
}

// Next blocks until another row is available, the stream completes, or
// ctx is canceled. ok is false once the stream is exhausted; err is
// non-nil if the stream failed (a *DatabaseError) or ctx was canceled.
func (s *ResultStream) Next(ctx context.Context) (row Row, ok bool, err error) {
	defer s.watchContext(ctx)()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.cursor >= len(s.rows) && !s.done {
		if cerr := ctx.Err(); cerr != nil {
			return nil, false, cerr
		}
		s.cond.Wait()
	}

	if s.cursor < len(s.rows) {
		row = s.rows[s.cursor]
		s.cursor++
		return row, true, nil
	}

	if s.err != nil {
		return nil, false, s.err
	}

	return nil, false, nil
}

// Reset rewinds Next's cursor to the beginning, allowing the already-
// received rows to be replayed without re-executing the query.
func (s *ResultStream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
}

// Status returns the command tag (e.g. "SELECT 3") once the stream has
// completed successfully, or "" if it hasn't completed or it failed.
func (s *ResultStream) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Collect blocks until the stream completes and returns the full
// {names, rows, status} mirror.
func (s *ResultStream) Collect(ctx context.Context) (*Result, error) {
	defer s.watchContext(ctx)()

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.cond.Wait()
	}

	if s.err != nil {
		return nil, s.err
	}

	rows := make([]Row, len(s.rows))
	copy(rows, s.rows)

	return &Result{Names: s.names, Rows: rows, Status: s.status}, nil
}
