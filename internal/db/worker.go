package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrWorkerClosed is returned by Do once Close has been called.
var ErrWorkerClosed = errors.New("db worker closed")

type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx     context.Context
	fn      TxFn
	ch      chan error
	started *atomic.Bool
}

// Worker serializes write transactions against one pool. Ledger writes and
// their sync_queue rows go through the same worker so a decision and its
// queue entry commit together.
type Worker struct {
	db      *sql.DB
	dialect Dialect
	jobs    chan job
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewWorker(db *sql.DB, d Dialect) *Worker {
	w := &Worker{
		db:      db,
		dialect: d,
		jobs:    make(chan job, 256),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) DB() *sql.DB { return w.db }
func (w *Worker) Dialect() Dialect { return w.dialect }

// Close drains queued jobs and stops the loop. It is safe to call twice.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	<-w.done
}

func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch, started: new(atomic.Bool)}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWorkerClosed
	}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
	}

	// Once the loop has begun the transaction the caller must learn whether
	// it committed. The tx is bound to ctx, so this wait is short.
	if j.started.Load() {
		return <-ch
	}
	return ctx.Err()
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		j.started.Store(true)
		if err := j.ctx.Err(); err != nil {
			j.ch <- err
			continue
		}

		tx, err := w.db.BeginTx(j.ctx, nil)
		if err != nil {
			j.ch <- err
			continue
		}

		if err := j.fn(j.ctx, tx); err != nil {
			_ = tx.Rollback()
			j.ch <- err
			continue
		}

		j.ch <- tx.Commit()
	}
}
