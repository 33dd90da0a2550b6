package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

func enqueue(t *testing.T, s store.Set, table string, op types.SyncOperation, p types.RecordPayload, created time.Time) int64 {
	t.Helper()
	payload, err := p.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	e := &types.SyncQueueEntry{Table: table, RecordID: 1, Operation: op, Payload: payload, CreatedAt: created}
	if err := s.Attendance.InTx(context.Background(), func(ctx context.Context, tx store.AttendanceTx) error {
		return tx.Enqueue(ctx, e)
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return e.ID
}

func ptr(t time.Time) *time.Time { return &t }

// ═══════════════════════════════════════════════════════════════════════════
// SyncQueueStore
// ═══════════════════════════════════════════════════════════════════════════

func TestSyncQueueStore_PendingOldestFirstAndLimit(t *testing.T) {
	_, s := newTestSet(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, enqueue(t, s, types.TableAttendanceLogs, types.OpInsert,
			types.RecordPayload{StudentNo: "S100", TimeIn: ptr(at(8, i, 0)), MethodID: types.MethodQR}, at(8, i, 0)))
	}

	got, err := s.SyncQueue.Pending(ctx, 3)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, e := range got {
		if e.ID != ids[i] {
			t.Errorf("entry %d: expected id %d, got %d", i, ids[i], e.ID)
		}
	}

	if err := s.SyncQueue.MarkDelivered(ctx, []int64{ids[0], ids[1]}, at(9, 0, 0)); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	backlog, err := s.SyncQueue.Backlog(ctx)
	if err != nil {
		t.Fatalf("Backlog: %v", err)
	}
	if backlog != 3 {
		t.Errorf("expected backlog 3, got %d", backlog)
	}

	got, err = s.SyncQueue.Pending(ctx, 20)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(got) != 3 || got[0].ID != ids[2] {
		t.Errorf("expected delivered entries to be skipped, got %+v", got)
	}
}

func TestSyncQueueStore_PruneDelivered(t *testing.T) {
	_, s := newTestSet(t)
	ctx := context.Background()

	p := types.RecordPayload{StudentNo: "S100", TimeIn: ptr(at(8, 0, 0)), MethodID: types.MethodQR}
	oldDelivered := enqueue(t, s, types.TableAttendanceLogs, types.OpInsert, p, at(1, 0, 0))
	enqueue(t, s, types.TableAttendanceLogs, types.OpInsert, p, at(1, 0, 0)) // old but pending
	newDelivered := enqueue(t, s, types.TableAttendanceLogs, types.OpInsert, p, at(12, 0, 0))

	if err := s.SyncQueue.MarkDelivered(ctx, []int64{oldDelivered, newDelivered}, at(13, 0, 0)); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	deleted, err := s.SyncQueue.PruneDelivered(ctx, at(6, 0, 0))
	if err != nil {
		t.Fatalf("PruneDelivered: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 pruned, got %d", deleted)
	}

	backlog, err := s.SyncQueue.Backlog(ctx)
	if err != nil {
		t.Fatalf("Backlog: %v", err)
	}
	if backlog != 1 {
		t.Errorf("pending entries must survive pruning, backlog=%d", backlog)
	}
}

func TestSyncQueueStore_EnqueueDelivered(t *testing.T) {
	_, s := newTestSet(t)
	ctx := context.Background()

	payload, err := types.RecordPayload{StudentNo: "S100", TimeIn: ptr(at(1, 0, 0)), MethodID: types.MethodQR}.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	e := &types.SyncQueueEntry{Table: types.TableAttendanceLogs, RecordID: 1, Operation: types.OpInsert,
		Payload: payload, CreatedAt: at(1, 0, 0), Delivered: true}
	if err := s.Attendance.InTx(ctx, func(ctx context.Context, tx store.AttendanceTx) error {
		return tx.Enqueue(ctx, e)
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	backlog, err := s.SyncQueue.Backlog(ctx)
	if err != nil {
		t.Fatalf("Backlog: %v", err)
	}
	if backlog != 0 {
		t.Errorf("expected no backlog for a delivered entry, got %d", backlog)
	}

	deleted, err := s.SyncQueue.PruneDelivered(ctx, at(6, 0, 0))
	if err != nil {
		t.Fatalf("PruneDelivered: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected the delivered entry to be prunable, got %d", deleted)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ReplicaStore
// ═══════════════════════════════════════════════════════════════════════════

func TestReplicaStore_ApplyBatch_IsIdempotent(t *testing.T) {
	_, local := newTestSet(t, "_local")
	remoteConn, remote := newTestSet(t, "_remote")
	ctx := context.Background()

	enqueue(t, local, types.TableAttendanceLogs, types.OpInsert,
		types.RecordPayload{StudentNo: "S100", TimeIn: ptr(at(8, 0, 0)), MethodID: types.MethodQR}, at(8, 0, 0))
	enqueue(t, local, types.TableAttendanceLogs, types.OpUpdate,
		types.RecordPayload{StudentNo: "S100", TimeIn: ptr(at(8, 0, 0)), TimeOut: ptr(at(17, 0, 0)), MethodID: types.MethodQR}, at(17, 0, 0))
	enqueue(t, local, types.TableExitLogs, types.OpInsert,
		types.RecordPayload{StudentNo: "S100", TimeOut: ptr(at(17, 0, 0)), MethodID: types.MethodFace}, at(17, 0, 0))

	batch, err := local.SyncQueue.Pending(ctx, 20)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := remote.Replica.ApplyBatch(ctx, batch); err != nil {
			t.Fatalf("ApplyBatch #%d: %v", i, err)
		}
	}

	var n int
	if err := remoteConn.QueryRowContext(ctx, "SELECT COUNT(*) FROM attendance_logs").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 remote attendance row after replay, got %d", n)
	}
	var outMs int64
	if err := remoteConn.QueryRowContext(ctx, "SELECT time_out_ms FROM attendance_logs").Scan(&outMs); err != nil {
		t.Fatalf("time_out: %v", err)
	}
	if outMs != at(17, 0, 0).UnixMilli() {
		t.Errorf("expected time_out 17:00, got %d", outMs)
	}
	if err := remoteConn.QueryRowContext(ctx, "SELECT COUNT(*) FROM exit_logs").Scan(&n); err != nil {
		t.Fatalf("count exits: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 remote exit row, got %d", n)
	}
}

func TestReplicaStore_ApplyBatch_LateInsertKeepsTimeOut(t *testing.T) {
	remoteConn, remote := newTestSet(t)
	ctx := context.Background()

	update := types.RecordPayload{StudentNo: "S100", TimeIn: ptr(at(8, 0, 0)), TimeOut: ptr(at(17, 0, 0)), MethodID: types.MethodQR}
	insert := types.RecordPayload{StudentNo: "S100", TimeIn: ptr(at(8, 0, 0)), MethodID: types.MethodQR}
	up, _ := update.Marshal()
	in, _ := insert.Marshal()

	batch := []types.SyncQueueEntry{
		{ID: 2, Table: types.TableAttendanceLogs, Operation: types.OpUpdate, Payload: up},
		{ID: 1, Table: types.TableAttendanceLogs, Operation: types.OpInsert, Payload: in},
	}
	if err := remote.Replica.ApplyBatch(ctx, batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	var outMs *int64
	if err := remoteConn.QueryRowContext(ctx, "SELECT time_out_ms FROM attendance_logs").Scan(&outMs); err != nil {
		t.Fatalf("time_out: %v", err)
	}
	if outMs == nil || *outMs != at(17, 0, 0).UnixMilli() {
		t.Errorf("late insert must not clear time_out, got %v", outMs)
	}
}

func TestReplicaStore_ApplyBatch_RollsBackOnBadEntry(t *testing.T) {
	remoteConn, remote := newTestSet(t)
	ctx := context.Background()

	good, _ := types.RecordPayload{StudentNo: "S100", TimeIn: ptr(at(8, 0, 0)), MethodID: types.MethodQR}.Marshal()
	batch := []types.SyncQueueEntry{
		{ID: 1, Table: types.TableAttendanceLogs, Operation: types.OpInsert, Payload: good},
		{ID: 2, Table: "bogus", Operation: types.OpInsert, Payload: good},
	}

	err := remote.Replica.ApplyBatch(ctx, batch)
	if !errors.Is(err, errs.ErrDataIntegrity) {
		t.Fatalf("expected ErrDataIntegrity, got %v", err)
	}

	var n int
	if err := remoteConn.QueryRowContext(ctx, "SELECT COUNT(*) FROM attendance_logs").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected batch rollback, found %d rows", n)
	}
}
