package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

type SyncQueueStore struct {
	db      *sql.DB
	writer  *dbpkg.Worker
	dialect dbpkg.Dialect
}

func NewSyncQueueStore(db *sql.DB, writer *dbpkg.Worker, d dbpkg.Dialect) *SyncQueueStore {
	return &SyncQueueStore{db: db, writer: writer, dialect: d}
}

func (s *SyncQueueStore) Pending(ctx context.Context, limit int) ([]types.SyncQueueEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
SELECT id, table_name, record_id, operation, payload, created_at_ms
FROM sync_queue
WHERE synced = 0
ORDER BY id
LIMIT ?;
`), limit)
	if err != nil {
		return nil, fmt.Errorf("Pending query: %w", err)
	}
	defer rows.Close()

	var out []types.SyncQueueEntry
	for rows.Next() {
		var (
			e         types.SyncQueueEntry
			op        string
			payload   string
			createdMs int64
		)
		if err := rows.Scan(&e.ID, &e.Table, &e.RecordID, &op, &payload, &createdMs); err != nil {
			return nil, fmt.Errorf("Pending scan: %w", err)
		}
		e.Operation = types.SyncOperation(op)
		e.Payload = []byte(payload)
		e.CreatedAt = fromMs(createdMs)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Pending rows: %w", err)
	}
	return out, nil
}

func (s *SyncQueueStore) MarkDelivered(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, toMs(at))
	for _, id := range ids {
		args = append(args, id)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(
			"UPDATE sync_queue SET synced = 1, synced_at_ms = ? WHERE synced = 0 AND id IN ("+placeholders+");",
		), args...); err != nil {
			return fmt.Errorf("MarkDelivered: %w", err)
		}
		return nil
	})
}

func (s *SyncQueueStore) Backlog(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue WHERE synced = 0;").Scan(&n); err != nil {
		return 0, fmt.Errorf("Backlog: %w", err)
	}
	return n, nil
}

func (s *SyncQueueStore) PruneDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.dialect.Rebind(
			"DELETE FROM sync_queue WHERE synced = 1 AND created_at_ms < ?;",
		), toMs(cutoff))
		if err != nil {
			return fmt.Errorf("PruneDelivered: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}
