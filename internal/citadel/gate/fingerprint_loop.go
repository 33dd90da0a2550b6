package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
)

type FingerprintIdentifier interface {
	Identify(ctx context.Context, live []byte, g *biometric.Gallery, scorer device.FingerprintScorer) (string, bool)
}

// LoopTiming controls the fingerprint loop's polling.
type LoopTiming struct {
	Idle    time.Duration // inactive poll, default 500ms
	Empty   time.Duration // no finger presented, default 200ms
	Backoff time.Duration // hardware or store error, default 1s
}

func (t *LoopTiming) defaults() {
	if t.Idle <= 0 {
		t.Idle = 500 * time.Millisecond
	}
	if t.Empty <= 0 {
		t.Empty = 200 * time.Millisecond
	}
	if t.Backoff <= 0 {
		t.Backoff = time.Second
	}
}

// FingerprintLoop owns the fingerprint reader handle. It polls for a finger
// while active and forwards each identification to the sink.
//
// The handle is opened and closed only on the Run goroutine. Deactivate and
// Lease ask the loop to let go; Lease additionally waits until it has.
type FingerprintLoop struct {
	opener  device.FingerprintOpener
	gallery Galleries
	matcher FingerprintIdentifier
	sink    func(studentNo string, matched bool) bool
	timing  LoopTiming
	logger  *slog.Logger

	mu      sync.Mutex
	active  bool
	leases  int
	holding bool
	changed chan struct{}
}

func NewFingerprintLoop(
	opener device.FingerprintOpener,
	gallery Galleries,
	matcher FingerprintIdentifier,
	sink func(studentNo string, matched bool) bool,
	timing LoopTiming,
	logger *slog.Logger,
) *FingerprintLoop {
	timing.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &FingerprintLoop{
		opener:  opener,
		gallery: gallery,
		matcher: matcher,
		sink:    sink,
		timing:  timing,
		logger:  logger.With("component", "fingerprint_loop"),
		changed: make(chan struct{}),
	}
}

// SetSink replaces the identification sink. It must be called before Run.
func (l *FingerprintLoop) SetSink(sink func(studentNo string, matched bool) bool) {
	l.sink = sink
}

func (l *FingerprintLoop) Activate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		l.active = true
		l.broadcast()
	}
}

func (l *FingerprintLoop) Deactivate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		l.active = false
		l.broadcast()
	}
}

// Active reports whether acquisition is requested and not leased away.
func (l *FingerprintLoop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabledLocked()
}

// Lease suspends the loop and waits until its reader handle is closed, so
// the caller may open the reader itself. The returned release resumes the
// loop if it is still activated.
func (l *FingerprintLoop) Lease(ctx context.Context) (release func(), err error) {
	l.mu.Lock()
	l.leases++
	l.broadcast()
	l.mu.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			l.mu.Lock()
			l.leases--
			l.broadcast()
			l.mu.Unlock()
		})
	}

	for {
		l.mu.Lock()
		holding, ch := l.holding, l.changed
		l.mu.Unlock()
		if !holding {
			return release, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
}

// Run polls the reader until ctx is cancelled. Hardware errors close the
// handle and back off; they never end the loop.
func (l *FingerprintLoop) Run(ctx context.Context) error {
	var r device.FingerprintReader
	closeReader := func() {
		if r == nil {
			return
		}
		if err := r.Close(); err != nil {
			l.logger.Debug("reader close failed", "error", err)
		}
		r = nil
		l.setHolding(false)
	}
	defer closeReader()

	l.logger.Info("fingerprint loop started")
	defer l.logger.Info("fingerprint loop stopped")

	for ctx.Err() == nil {
		if r != nil && !l.Active() {
			closeReader()
		}

		if r == nil {
			if !l.claimHandle() {
				l.waitChange(ctx, l.timing.Idle)
				continue
			}
			h, err := l.opener.Open(ctx)
			if err != nil {
				l.setHolding(false)
				l.logger.Warn("fingerprint reader unavailable", "error", errors.Join(errs.ErrHardware, err))
				sleepCtx(ctx, l.timing.Backoff)
				continue
			}
			r = h
		}

		live, err := r.Acquire(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			l.logger.Warn("fingerprint capture failed", "error", errors.Join(errs.ErrHardware, err))
			closeReader()
			sleepCtx(ctx, l.timing.Backoff)
			continue
		}
		if len(live) == 0 {
			sleepCtx(ctx, l.timing.Empty)
			continue
		}

		g, err := l.gallery.Load(ctx, false)
		if err != nil {
			l.logger.Warn("gallery unavailable", "error", err)
			sleepCtx(ctx, l.timing.Backoff)
			continue
		}
		id, ok := l.matcher.Identify(ctx, live, g, r)
		if l.sink != nil && !l.sink(id, ok) {
			l.logger.Debug("identification dropped", "student_no", id)
		}
	}
	return nil
}

// claimHandle marks the handle as held if the loop is enabled, before the
// reader is opened, so a concurrent Lease waits for the open to settle.
func (l *FingerprintLoop) claimHandle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabledLocked() {
		return false
	}
	l.holding = true
	return true
}

func (l *FingerprintLoop) setHolding(h bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holding != h {
		l.holding = h
		l.broadcast()
	}
}

func (l *FingerprintLoop) enabledLocked() bool {
	return l.active && l.leases == 0
}

// broadcast wakes every waiter. Caller holds mu.
func (l *FingerprintLoop) broadcast() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *FingerprintLoop) waitChange(ctx context.Context, d time.Duration) {
	l.mu.Lock()
	ch := l.changed
	l.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-ch:
	case <-t.C:
	}
}
