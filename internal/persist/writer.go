// Package persist writes session changes to the store in the background.
// Writes for one user are applied in order; failures are logged and never
// reach the run that caused them.
package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/model"
)

// Sink is the storage the writer talks to. store.Store satisfies it.
type Sink interface {
	SaveFunds(ctx context.Context, userID string, funds []model.Fund) error
	UpdateFundStatus(ctx context.Context, userID, name, status string) error
	SaveFundAnalysis(ctx context.Context, userID, name string, a *model.ApplicationAnalysis) error
}

// Config tunes the writer.
type Config struct {
	// Debounce is how long a scheduled snapshot waits before it is written.
	// Later snapshots scheduled within the window replace it.
	Debounce time.Duration
	// WriteTimeout bounds a single store call.
	WriteTimeout time.Duration
}

const (
	defaultDebounce     = 750 * time.Millisecond
	defaultWriteTimeout = 30 * time.Second
)

type job struct {
	kind string
	name string
	run  func(ctx context.Context) error
}

type userQueue struct {
	jobs     []job
	running  bool
	snapshot []model.Fund
	timer    *time.Timer
}

// Writer queues store writes per user.
type Writer struct {
	sink Sink
	cfg  Config

	mu     sync.Mutex
	users  map[string]*userQueue
	closed bool
	wg     sync.WaitGroup
}

// New creates a Writer over sink.
func New(sink Sink, cfg Config) *Writer {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Writer{sink: sink, cfg: cfg, users: make(map[string]*userQueue)}
}

// Schedule records snapshot as the latest full collection for userID. The
// write happens once the debounce window closes, using whichever snapshot
// is newest at that time.
func (w *Writer) Schedule(userID string, snapshot []model.Fund) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	q := w.queue(userID)
	q.snapshot = snapshot
	if q.timer != nil {
		return
	}
	w.wg.Add(1)
	q.timer = time.AfterFunc(w.cfg.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		defer w.mu.Unlock()
		w.releaseLocked(userID, q)
	})
}

// WriteStatus persists a single status change.
func (w *Writer) WriteStatus(userID, name, status string) {
	w.enqueue(userID, job{kind: "status", name: name, run: func(ctx context.Context) error {
		return w.sink.UpdateFundStatus(ctx, userID, name, status)
	}})
}

// WriteAnalysis persists a single application analysis.
func (w *Writer) WriteAnalysis(userID, name string, a *model.ApplicationAnalysis) {
	w.enqueue(userID, job{kind: "analysis", name: name, run: func(ctx context.Context) error {
		return w.sink.SaveFundAnalysis(ctx, userID, name, a)
	}})
}

// Flush writes every pending snapshot now and waits for all queued writes
// to finish or ctx to end.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	for userID, q := range w.users {
		if q.timer != nil && q.timer.Stop() {
			w.releaseLocked(userID, q)
			w.wg.Done()
		}
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending writes and rejects new ones.
func (w *Writer) Close(ctx context.Context) error {
	err := w.Flush(ctx)
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return err
}

// releaseLocked turns the pending snapshot of q into a queued save.
func (w *Writer) releaseLocked(userID string, q *userQueue) {
	snap := q.snapshot
	q.snapshot = nil
	q.timer = nil
	if snap == nil {
		return
	}
	w.pushLocked(userID, q, job{kind: "funds", run: func(ctx context.Context) error {
		return w.sink.SaveFunds(ctx, userID, snap)
	}})
}

func (w *Writer) enqueue(userID string, j job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		zap.L().Warn("persist: write after close dropped", zap.String("user", userID), zap.String("kind", j.kind))
		return
	}
	w.pushLocked(userID, w.queue(userID), j)
}

func (w *Writer) pushLocked(userID string, q *userQueue, j job) {
	q.jobs = append(q.jobs, j)
	if q.running {
		return
	}
	q.running = true
	w.wg.Add(1)
	go w.drain(userID, q)
}

func (w *Writer) drain(userID string, q *userQueue) {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			w.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		w.mu.Unlock()

		w.exec(userID, j)
	}
}

func (w *Writer) exec(userID string, j job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()
	if err := j.run(ctx); err != nil {
		zap.L().Warn("persist: write failed",
			zap.String("user", userID),
			zap.String("kind", j.kind),
			zap.String("fund", j.name),
			zap.Error(err),
		)
	}
}

func (w *Writer) queue(userID string) *userQueue {
	q, ok := w.users[userID]
	if !ok {
		q = &userQueue{}
		w.users[userID] = q
	}
	return q
}
