package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

// AttendanceStore runs ledger decisions atomically: the reads that decide,
// the record write and its sync_queue entry commit or roll back together.
type AttendanceStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx AttendanceTx) error) error
}

// AttendanceTx exposes both record layouts. A ledger uses only the methods
// of the layout it is configured for.
type AttendanceTx interface {
	// Combined layout (attendance_logs).
	LatestAttendance(ctx context.Context, studentNo string) (*types.AttendanceRecord, error)
	LatestTimeOut(ctx context.Context, studentNo string) (*time.Time, error)
	InsertAttendance(ctx context.Context, rec *types.AttendanceRecord) error
	CloseAttendance(ctx context.Context, id int64, at time.Time) error

	// Separate layout (entry_logs / exit_logs).
	LatestEntryLog(ctx context.Context, studentNo string) (*time.Time, error)
	LatestExitLog(ctx context.Context, studentNo string) (*time.Time, error)
	InsertEntryLog(ctx context.Context, rec *types.AttendanceRecord) error
	InsertExitLog(ctx context.Context, rec *types.ExitRecord) error

	Enqueue(ctx context.Context, e *types.SyncQueueEntry) error
}
