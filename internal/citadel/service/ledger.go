package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/metrics"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

// Policy selects the attendance record layout.
type Policy string

const (
	// PolicyCombined keeps one attendance_logs row per visit: entry opens
	// it, exit closes it.
	PolicyCombined Policy = "combined"

	// PolicySeparate writes entries and exits to their own tables.
	PolicySeparate Policy = "separate"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyCombined, "":
		return PolicyCombined, nil
	case PolicySeparate:
		return PolicySeparate, nil
	default:
		return "", fmt.Errorf("unknown ledger policy %q: %w", s, errs.ErrInvalidArgument)
	}
}

type LedgerConfig struct {
	Policy   Policy
	Debounce time.Duration // default 60s
}

// Ledger records entry and exit events. Every accepted write and its
// sync_queue entry commit in one transaction on whichever store the
// provider hands out.
type Ledger struct {
	stores  store.Provider
	recent  RecentLog
	cfg     LedgerConfig
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type LedgerOption func(*Ledger)

// WithClock sets the clock function for testability.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithLedgerMetrics(m *metrics.Metrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

func NewLedger(p store.Provider, recent RecentLog, cfg LedgerConfig, opts ...LedgerOption) *Ledger {
	if cfg.Policy == "" {
		cfg.Policy = PolicyCombined
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 60 * time.Second
	}
	if recent == nil {
		recent = NewMemoryRecentLog()
	}
	l := &Ledger{
		stores: p,
		recent: recent,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/BrandonDHaskell/Citadel/gate/ledger"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = l.logger.With("component", "ledger", "policy", string(cfg.Policy))
	return l
}

func (l *Ledger) RecordEntry(ctx context.Context, studentNo string, method types.Method) (types.Outcome, error) {
	return l.Record(ctx, types.DirectionEntry, studentNo, method)
}

func (l *Ledger) RecordExit(ctx context.Context, studentNo string, method types.Method) (types.Outcome, error) {
	return l.Record(ctx, types.DirectionExit, studentNo, method)
}

// Record applies the debounce and pairing rules and writes the event.
// DuplicateSubmission cases are outcomes, not errors; errors are reserved
// for invalid input and store failures.
func (l *Ledger) Record(ctx context.Context, dir types.Direction, studentNo string, method types.Method) (out types.Outcome, err error) {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "ledger.record", trace.WithAttributes(
		attribute.String("direction", string(dir)),
		attribute.String("method", method.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			l.metrics.ObserveDecision(string(dir), method.String(), "error", start)
		} else {
			span.SetAttributes(attribute.String("outcome", out.Kind.String()))
			l.metrics.ObserveDecision(string(dir), method.String(), out.Kind.String(), start)
		}
		span.End()
	}()

	studentNo = strings.TrimSpace(studentNo)
	if studentNo == "" {
		return types.Outcome{}, fmt.Errorf("record %s: empty student_no: %w", dir, errs.ErrInvalidArgument)
	}
	if !method.Valid() {
		return types.Outcome{}, fmt.Errorf("record %s: %s: %w", dir, method, errs.ErrInvalidArgument)
	}
	if dir != types.DirectionEntry && dir != types.DirectionExit {
		return types.Outcome{}, fmt.Errorf("record: direction %q: %w", dir, errs.ErrInvalidArgument)
	}

	set, err := l.stores.Stores(ctx)
	if err != nil {
		return types.Outcome{}, fmt.Errorf("record %s: %w", dir, err)
	}

	id, ok, err := set.Identities.FindByID(ctx, studentNo)
	if err != nil {
		return types.Outcome{}, fmt.Errorf("record %s: %w", dir, err)
	}
	if !ok {
		return types.Denied(types.ReasonNotRegistered), nil
	}

	now := l.now().UTC().Truncate(time.Millisecond)

	remembered, err := l.recent.LastLogged(ctx, dir, studentNo)
	if err != nil {
		// The persisted timestamp still guards against duplicates.
		l.logger.Warn("recent log unavailable", "err", err)
		remembered = nil
	}

	err = set.Attendance.InTx(ctx, func(ctx context.Context, tx store.AttendanceTx) error {
		if set.Origin == store.OriginRemote {
			tx = authoritativeTx{tx}
		}
		var err error
		switch {
		case dir == types.DirectionEntry && l.cfg.Policy == PolicySeparate:
			out, err = l.entrySeparate(ctx, tx, studentNo, method, now, remembered)
		case dir == types.DirectionEntry:
			out, err = l.entryCombined(ctx, tx, studentNo, method, now, remembered)
		case l.cfg.Policy == PolicySeparate:
			out, err = l.exitSeparate(ctx, tx, studentNo, method, now, remembered)
		default:
			out, err = l.exitCombined(ctx, tx, studentNo, method, now, remembered)
		}
		return err
	})
	if err != nil {
		return types.Outcome{}, fmt.Errorf("record %s: %w", dir, err)
	}
	out.Identity = &id

	if out.IsGranted() {
		if err := l.recent.MarkLogged(ctx, dir, studentNo, now); err != nil {
			l.logger.Warn("recent log update failed", "err", err)
		}
	}

	l.logger.Info("attendance decision",
		"student_no", studentNo,
		"direction", string(dir),
		"method", method.String(),
		"outcome", out.Kind.String(),
		"origin", string(set.Origin),
	)
	return out, nil
}

func (l *Ledger) tooSoon(now time.Time, ts ...*time.Time) bool {
	var last *time.Time
	for _, t := range ts {
		if t != nil && (last == nil || t.After(*last)) {
			last = t
		}
	}
	return last != nil && now.Sub(*last) < l.cfg.Debounce
}

func (l *Ledger) entryCombined(ctx context.Context, tx store.AttendanceTx, studentNo string, method types.Method, now time.Time, remembered *time.Time) (types.Outcome, error) {
	latest, err := tx.LatestAttendance(ctx, studentNo)
	if err != nil {
		return types.Outcome{}, err
	}
	// A close written by an entry tap counts as an accepted event too.
	var lastIn, lastOut *time.Time
	if latest != nil {
		lastIn, lastOut = &latest.TimeIn, latest.TimeOut
	}
	if l.tooSoon(now, remembered, lastIn, lastOut) {
		return types.Outcome{Kind: types.OutcomeTooSoon, Reason: types.ReasonDebounced}, nil
	}

	// An unmatched open row is closed rather than starting a second visit.
	if latest != nil && latest.TimeOut == nil {
		if err := tx.CloseAttendance(ctx, latest.ID, now); err != nil {
			return types.Outcome{}, err
		}
		closed := *latest
		closed.TimeOut = &now
		return granted(ctx, tx, types.TableAttendanceLogs, closed.ID, types.OpUpdate, types.PayloadFor(closed))
	}

	rec := &types.AttendanceRecord{StudentNo: studentNo, TimeIn: now, Method: method}
	if err := tx.InsertAttendance(ctx, rec); err != nil {
		return types.Outcome{}, err
	}
	return granted(ctx, tx, types.TableAttendanceLogs, rec.ID, types.OpInsert, types.PayloadFor(*rec))
}

func (l *Ledger) exitCombined(ctx context.Context, tx store.AttendanceTx, studentNo string, method types.Method, now time.Time, remembered *time.Time) (types.Outcome, error) {
	latest, err := tx.LatestAttendance(ctx, studentNo)
	if err != nil {
		return types.Outcome{}, err
	}
	lastOut, err := tx.LatestTimeOut(ctx, studentNo)
	if err != nil {
		return types.Outcome{}, err
	}
	if latest == nil || latest.TimeOut != nil || (lastOut != nil && !latest.TimeIn.After(*lastOut)) {
		return types.Outcome{Kind: types.OutcomeAlreadyLogged, Reason: types.ReasonNoOpenEntry}, nil
	}
	if l.tooSoon(now, remembered, lastOut) {
		return types.Outcome{Kind: types.OutcomeTooSoon, Reason: types.ReasonDebounced}, nil
	}

	if err := tx.CloseAttendance(ctx, latest.ID, now); err != nil {
		return types.Outcome{}, err
	}
	closed := *latest
	closed.TimeOut = &now
	return granted(ctx, tx, types.TableAttendanceLogs, closed.ID, types.OpUpdate, types.PayloadFor(closed))
}

func (l *Ledger) entrySeparate(ctx context.Context, tx store.AttendanceTx, studentNo string, method types.Method, now time.Time, remembered *time.Time) (types.Outcome, error) {
	lastIn, err := tx.LatestEntryLog(ctx, studentNo)
	if err != nil {
		return types.Outcome{}, err
	}
	if l.tooSoon(now, remembered, lastIn) {
		return types.Outcome{Kind: types.OutcomeTooSoon, Reason: types.ReasonDebounced}, nil
	}

	rec := &types.AttendanceRecord{StudentNo: studentNo, TimeIn: now, Method: method}
	if err := tx.InsertEntryLog(ctx, rec); err != nil {
		return types.Outcome{}, err
	}
	return granted(ctx, tx, types.TableEntryLogs, rec.ID, types.OpInsert, types.PayloadFor(*rec))
}

func (l *Ledger) exitSeparate(ctx context.Context, tx store.AttendanceTx, studentNo string, method types.Method, now time.Time, remembered *time.Time) (types.Outcome, error) {
	lastIn, err := tx.LatestEntryLog(ctx, studentNo)
	if err != nil {
		return types.Outcome{}, err
	}
	lastOut, err := tx.LatestExitLog(ctx, studentNo)
	if err != nil {
		return types.Outcome{}, err
	}
	if lastIn == nil || (lastOut != nil && !lastIn.After(*lastOut)) {
		return types.Outcome{Kind: types.OutcomeAlreadyLogged, Reason: types.ReasonNoOpenEntry}, nil
	}
	if l.tooSoon(now, remembered, lastOut) {
		return types.Outcome{Kind: types.OutcomeTooSoon, Reason: types.ReasonDebounced}, nil
	}

	rec := &types.ExitRecord{StudentNo: studentNo, TimeOut: now, Method: method}
	if err := tx.InsertExitLog(ctx, rec); err != nil {
		return types.Outcome{}, err
	}
	return granted(ctx, tx, types.TableExitLogs, rec.ID, types.OpInsert, types.ExitPayloadFor(*rec))
}

func granted(ctx context.Context, tx store.AttendanceTx, table string, recordID int64, op types.SyncOperation, p types.RecordPayload) (types.Outcome, error) {
	payload, err := p.Marshal()
	if err != nil {
		return types.Outcome{}, fmt.Errorf("marshal %s payload: %w", table, err)
	}
	if err := tx.Enqueue(ctx, &types.SyncQueueEntry{
		Table:     table,
		RecordID:  recordID,
		Operation: op,
		Payload:   payload,
	}); err != nil {
		return types.Outcome{}, err
	}
	return types.Outcome{Kind: types.OutcomeGranted}, nil
}

// authoritativeTx writes queue rows already delivered: a decision served by
// the remote is on the store replication would deliver it to.
type authoritativeTx struct {
	store.AttendanceTx
}

func (t authoritativeTx) Enqueue(ctx context.Context, e *types.SyncQueueEntry) error {
	e.Delivered = true
	return t.AttendanceTx.Enqueue(ctx, e)
}

// IsDuplicate reports whether an outcome is one of the duplicate-submission
// verdicts.
func IsDuplicate(o types.Outcome) bool {
	return o.Kind == types.OutcomeTooSoon || o.Kind == types.OutcomeAlreadyLogged
}
