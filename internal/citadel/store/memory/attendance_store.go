package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.AttendanceTx) error) error {
	return s.update(func(st *state) error {
		return fn(ctx, &attendanceTx{st: st})
	})
}

type attendanceTx struct {
	st *state
}

func (a *attendanceTx) LatestAttendance(_ context.Context, studentNo string) (*types.AttendanceRecord, error) {
	var best *types.AttendanceRecord
	for i := range a.st.attendance {
		r := &a.st.attendance[i]
		if r.StudentNo != studentNo {
			continue
		}
		if best == nil || r.TimeIn.After(best.TimeIn) || (r.TimeIn.Equal(best.TimeIn) && r.ID > best.ID) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (a *attendanceTx) LatestTimeOut(_ context.Context, studentNo string) (*time.Time, error) {
	var best *time.Time
	for _, r := range a.st.attendance {
		if r.StudentNo == studentNo {
			best = latest(best, r.TimeOut)
		}
	}
	return best, nil
}

func (a *attendanceTx) InsertAttendance(_ context.Context, rec *types.AttendanceRecord) error {
	for _, r := range a.st.attendance {
		if r.StudentNo == rec.StudentNo && r.TimeIn.Equal(rec.TimeIn) {
			return fmt.Errorf("InsertAttendance: duplicate (%s, %s)", rec.StudentNo, rec.TimeIn)
		}
	}
	rec.ID = a.st.id()
	a.st.attendance = append(a.st.attendance, *rec)
	return nil
}

func (a *attendanceTx) CloseAttendance(_ context.Context, id int64, at time.Time) error {
	for i := range a.st.attendance {
		r := &a.st.attendance[i]
		if r.ID == id && r.TimeOut == nil {
			t := at
			r.TimeOut = &t
			return nil
		}
	}
	return fmt.Errorf("CloseAttendance: row %d is not open", id)
}

func (a *attendanceTx) LatestEntryLog(_ context.Context, studentNo string) (*time.Time, error) {
	var best *time.Time
	for _, r := range a.st.entries {
		if r.StudentNo == studentNo {
			t := r.TimeIn
			best = latest(best, &t)
		}
	}
	return best, nil
}

func (a *attendanceTx) LatestExitLog(_ context.Context, studentNo string) (*time.Time, error) {
	var best *time.Time
	for _, r := range a.st.exits {
		if r.StudentNo == studentNo {
			t := r.TimeOut
			best = latest(best, &t)
		}
	}
	return best, nil
}

func (a *attendanceTx) InsertEntryLog(_ context.Context, rec *types.AttendanceRecord) error {
	rec.ID = a.st.id()
	a.st.entries = append(a.st.entries, *rec)
	return nil
}

func (a *attendanceTx) InsertExitLog(_ context.Context, rec *types.ExitRecord) error {
	rec.ID = a.st.id()
	a.st.exits = append(a.st.exits, *rec)
	return nil
}

func (a *attendanceTx) Enqueue(_ context.Context, e *types.SyncQueueEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Delivered && e.DeliveredAt == nil {
		at := e.CreatedAt
		e.DeliveredAt = &at
	}
	e.ID = a.st.id()
	a.st.queue = append(a.st.queue, *e)
	return nil
}
