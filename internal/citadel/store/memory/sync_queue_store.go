package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

func (s *Store) Pending(_ context.Context, limit int) ([]types.SyncQueueEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.SyncQueueEntry
	for _, e := range s.st.queue {
		if e.Delivered {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkDelivered(_ context.Context, ids []int64, at time.Time) error {
	return s.update(func(st *state) error {
		for i := range st.queue {
			if !st.queue[i].Delivered && slices.Contains(ids, st.queue[i].ID) {
				t := at
				st.queue[i].Delivered = true
				st.queue[i].DeliveredAt = &t
			}
		}
		return nil
	})
}

func (s *Store) Backlog(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.st.queue {
		if !e.Delivered {
			n++
		}
	}
	return n, nil
}

func (s *Store) PruneDelivered(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.update(func(st *state) error {
		kept := st.queue[:0:0]
		for _, e := range st.queue {
			if e.Delivered && e.CreatedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		st.queue = kept
		return nil
	})
	return deleted, err
}

// ApplyBatch upserts by natural key: (student, time_in) for attendance and
// entry rows, (student, time_out) for exit rows.
func (s *Store) ApplyBatch(_ context.Context, entries []types.SyncQueueEntry) error {
	s.mu.Lock()
	injected := s.applyErr
	s.applyErr = nil
	s.mu.Unlock()
	if injected != nil {
		return injected
	}

	return s.update(func(st *state) error {
		for _, e := range entries {
			p, err := e.Validate()
			if err != nil {
				return fmt.Errorf("ApplyBatch entry %d: %v: %w", e.ID, err, errs.ErrDataIntegrity)
			}
			switch e.Table {
			case types.TableAttendanceLogs:
				applyAttendance(st, p)
			case types.TableEntryLogs:
				if !slices.ContainsFunc(st.entries, func(r types.AttendanceRecord) bool {
					return r.StudentNo == p.StudentNo && r.TimeIn.Equal(*p.TimeIn)
				}) {
					st.entries = append(st.entries, types.AttendanceRecord{
						ID: st.id(), StudentNo: p.StudentNo, TimeIn: *p.TimeIn, Method: p.MethodID,
					})
				}
			case types.TableExitLogs:
				if !slices.ContainsFunc(st.exits, func(r types.ExitRecord) bool {
					return r.StudentNo == p.StudentNo && r.TimeOut.Equal(*p.TimeOut)
				}) {
					st.exits = append(st.exits, types.ExitRecord{
						ID: st.id(), StudentNo: p.StudentNo, TimeOut: *p.TimeOut, Method: p.MethodID,
					})
				}
			}
		}
		return nil
	})
}

func applyAttendance(st *state, p types.RecordPayload) {
	for i := range st.attendance {
		r := &st.attendance[i]
		if r.StudentNo == p.StudentNo && r.TimeIn.Equal(*p.TimeIn) {
			if p.TimeOut != nil {
				t := *p.TimeOut
				r.TimeOut = &t
			}
			return
		}
	}
	st.attendance = append(st.attendance, types.AttendanceRecord{
		ID:        st.id(),
		StudentNo: p.StudentNo,
		TimeIn:    *p.TimeIn,
		TimeOut:   p.TimeOut,
		Method:    p.MethodID,
	})
}
