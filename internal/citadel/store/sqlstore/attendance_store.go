package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

type AttendanceStore struct {
	writer  *dbpkg.Worker
	dialect dbpkg.Dialect
}

func NewAttendanceStore(writer *dbpkg.Worker, d dbpkg.Dialect) *AttendanceStore {
	return &AttendanceStore{writer: writer, dialect: d}
}

func (s *AttendanceStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.AttendanceTx) error) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &attendanceTx{tx: tx, d: s.dialect})
	})
}

type attendanceTx struct {
	tx *sql.Tx
	d  dbpkg.Dialect
}

func (a *attendanceTx) LatestAttendance(ctx context.Context, studentNo string) (*types.AttendanceRecord, error) {
	var (
		rec    types.AttendanceRecord
		inMs   int64
		outMs  sql.NullInt64
		method int
	)
	err := a.tx.QueryRowContext(ctx, a.d.Rebind(`
SELECT id, student_no, time_in_ms, time_out_ms, method_id
FROM attendance_logs
WHERE student_no = ?
ORDER BY time_in_ms DESC, id DESC
LIMIT 1;
`), studentNo).Scan(&rec.ID, &rec.StudentNo, &inMs, &outMs, &method)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestAttendance: %w", err)
	}
	rec.TimeIn = fromMs(inMs)
	rec.TimeOut = timePtr(outMs)
	rec.Method = types.Method(method)
	return &rec, nil
}

func (a *attendanceTx) LatestTimeOut(ctx context.Context, studentNo string) (*time.Time, error) {
	return a.maxMs(ctx, "LatestTimeOut",
		"SELECT MAX(time_out_ms) FROM attendance_logs WHERE student_no = ?;", studentNo)
}

func (a *attendanceTx) InsertAttendance(ctx context.Context, rec *types.AttendanceRecord) error {
	err := a.tx.QueryRowContext(ctx, a.d.Rebind(`
INSERT INTO attendance_logs(student_no, time_in_ms, time_out_ms, method_id)
VALUES (?, ?, ?, ?)
RETURNING id;
`), rec.StudentNo, toMs(rec.TimeIn), nullableMs(rec.TimeOut), int(rec.Method)).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("InsertAttendance: %w", err)
	}
	return nil
}

func (a *attendanceTx) CloseAttendance(ctx context.Context, id int64, at time.Time) error {
	res, err := a.tx.ExecContext(ctx, a.d.Rebind(`
UPDATE attendance_logs SET time_out_ms = ?
WHERE id = ? AND time_out_ms IS NULL;
`), toMs(at), id)
	if err != nil {
		return fmt.Errorf("CloseAttendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("CloseAttendance rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("CloseAttendance: row %d is not open", id)
	}
	return nil
}

func (a *attendanceTx) LatestEntryLog(ctx context.Context, studentNo string) (*time.Time, error) {
	return a.maxMs(ctx, "LatestEntryLog",
		"SELECT MAX(time_in_ms) FROM entry_logs WHERE student_no = ?;", studentNo)
}

func (a *attendanceTx) LatestExitLog(ctx context.Context, studentNo string) (*time.Time, error) {
	return a.maxMs(ctx, "LatestExitLog",
		"SELECT MAX(time_out_ms) FROM exit_logs WHERE student_no = ?;", studentNo)
}

func (a *attendanceTx) InsertEntryLog(ctx context.Context, rec *types.AttendanceRecord) error {
	err := a.tx.QueryRowContext(ctx, a.d.Rebind(`
INSERT INTO entry_logs(student_no, time_in_ms, method_id)
VALUES (?, ?, ?)
RETURNING id;
`), rec.StudentNo, toMs(rec.TimeIn), int(rec.Method)).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("InsertEntryLog: %w", err)
	}
	return nil
}

func (a *attendanceTx) InsertExitLog(ctx context.Context, rec *types.ExitRecord) error {
	err := a.tx.QueryRowContext(ctx, a.d.Rebind(`
INSERT INTO exit_logs(student_no, time_out_ms, method_id)
VALUES (?, ?, ?)
RETURNING id;
`), rec.StudentNo, toMs(rec.TimeOut), int(rec.Method)).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("InsertExitLog: %w", err)
	}
	return nil
}

func (a *attendanceTx) Enqueue(ctx context.Context, e *types.SyncQueueEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	synced := 0
	if e.Delivered {
		if e.DeliveredAt == nil {
			at := e.CreatedAt
			e.DeliveredAt = &at
		}
		synced = 1
	}
	err := a.tx.QueryRowContext(ctx, a.d.Rebind(`
INSERT INTO sync_queue(table_name, record_id, operation, payload, synced, created_at_ms, synced_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id;
`), e.Table, e.RecordID, string(e.Operation), string(e.Payload), synced, toMs(e.CreatedAt), nullableMs(e.DeliveredAt)).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("Enqueue: %w", err)
	}
	return nil
}

func (a *attendanceTx) maxMs(ctx context.Context, op, query, studentNo string) (*time.Time, error) {
	var ms sql.NullInt64
	if err := a.tx.QueryRowContext(ctx, a.d.Rebind(query), studentNo).Scan(&ms); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return timePtr(ms), nil
}
