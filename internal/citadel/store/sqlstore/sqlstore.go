// Package sqlstore implements the citadel stores on database/sql for both
// the local sqlite replica and the remote Postgres store. Queries use '?'
// placeholders and are rebound per dialect; timestamps are stored as
// UTC milliseconds.
package sqlstore

import (
	"database/sql"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

// New binds every store to one pool. All writes go through writer.
func New(db *sql.DB, writer *dbpkg.Worker, origin store.Origin) store.Set {
	d := writer.Dialect()
	return store.Set{
		Origin:     origin,
		Identities: NewIdentityStore(db, writer, d),
		Templates:  NewTemplateStore(db, writer, d),
		Attendance: NewAttendanceStore(writer, d),
		SyncQueue:  NewSyncQueueStore(db, writer, d),
		Replica:    NewReplicaStore(writer, d),
	}
}

func toMs(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMs(*t)
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMs(n.Int64)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
