package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

// ReplicaStore replays queued local writes onto the store it is bound to.
// Every statement is an upsert keyed on the natural key of the row, never
// on the local row id, so replays converge.
type ReplicaStore struct {
	writer  *dbpkg.Worker
	dialect dbpkg.Dialect
}

func NewReplicaStore(writer *dbpkg.Worker, d dbpkg.Dialect) *ReplicaStore {
	return &ReplicaStore{writer: writer, dialect: d}
}

func (s *ReplicaStore) ApplyBatch(ctx context.Context, entries []types.SyncQueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, e := range entries {
			if err := s.apply(ctx, tx, e); err != nil {
				return fmt.Errorf("ApplyBatch entry %d: %w", e.ID, err)
			}
		}
		return nil
	})
}

func (s *ReplicaStore) apply(ctx context.Context, tx *sql.Tx, e types.SyncQueueEntry) error {
	p, err := e.Validate()
	if err != nil {
		return fmt.Errorf("%v: %w", err, errs.ErrDataIntegrity)
	}

	switch e.Table {
	case types.TableAttendanceLogs:
		// A late-arriving insert must not reopen a row the remote already
		// saw closed, hence COALESCE.
		_, err = tx.ExecContext(ctx, s.dialect.Rebind(`
INSERT INTO attendance_logs(student_no, time_in_ms, time_out_ms, method_id)
VALUES (?, ?, ?, ?)
ON CONFLICT(student_no, time_in_ms) DO UPDATE SET
  time_out_ms = COALESCE(excluded.time_out_ms, attendance_logs.time_out_ms);
`), p.StudentNo, toMs(*p.TimeIn), nullableMs(p.TimeOut), int(p.MethodID))

	case types.TableEntryLogs:
		_, err = tx.ExecContext(ctx, s.dialect.Rebind(`
INSERT INTO entry_logs(student_no, time_in_ms, method_id)
VALUES (?, ?, ?)
ON CONFLICT(student_no, time_in_ms) DO NOTHING;
`), p.StudentNo, toMs(*p.TimeIn), int(p.MethodID))

	case types.TableExitLogs:
		_, err = tx.ExecContext(ctx, s.dialect.Rebind(`
INSERT INTO exit_logs(student_no, time_out_ms, method_id)
VALUES (?, ?, ?)
ON CONFLICT(student_no, time_out_ms) DO NOTHING;
`), p.StudentNo, toMs(*p.TimeOut), int(p.MethodID))

	default:
		return fmt.Errorf("unknown table %q: %w", e.Table, errs.ErrDataIntegrity)
	}
	return err
}
