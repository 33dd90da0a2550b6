package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Method is the verification path that produced a decision. Values are
// persisted and replicated, so they must not change.
type Method int

const (
	MethodQR          Method = 1
	MethodFingerprint Method = 2
	MethodFace        Method = 3
)

func (m Method) Valid() bool {
	return m == MethodQR || m == MethodFingerprint || m == MethodFace
}

func (m Method) String() string {
	switch m {
	case MethodQR:
		return "qr"
	case MethodFingerprint:
		return "fingerprint"
	case MethodFace:
		return "face"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Direction is which side of the gate a terminal serves.
type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

// AttendanceRecord is one row of the combined attendance log, or one entry
// row in the separate layout (TimeOut is then always nil).
type AttendanceRecord struct {
	ID        int64
	StudentNo string
	TimeIn    time.Time
	TimeOut   *time.Time
	Method    Method
}

// ExitRecord is one row of the separate exit log.
type ExitRecord struct {
	ID        int64
	StudentNo string
	TimeOut   time.Time
	Method    Method
}

// Replicated table names.
const (
	TableAttendanceLogs = "attendance_logs"
	TableEntryLogs      = "entry_logs"
	TableExitLogs       = "exit_logs"
)

type SyncOperation string

const (
	OpInsert SyncOperation = "insert"
	OpUpdate SyncOperation = "update"
)

func (o SyncOperation) Valid() bool { return o == OpInsert || o == OpUpdate }

// SyncQueueEntry records one local write that still has to reach the
// remote store. Payload is a JSON-encoded RecordPayload.
type SyncQueueEntry struct {
	ID          int64
	Table       string
	RecordID    int64
	Operation   SyncOperation
	Payload     []byte
	Delivered   bool
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// RecordPayload is the full mirror of a replicated row. Updates carry the
// entry timestamp too so the remote can key its upsert on it.
type RecordPayload struct {
	StudentNo string     `json:"student_no"`
	TimeIn    *time.Time `json:"time_in,omitempty"`
	TimeOut   *time.Time `json:"time_out,omitempty"`
	MethodID  Method     `json:"method_id"`
}

func (p RecordPayload) Marshal() ([]byte, error) { return json.Marshal(p) }

func DecodeRecordPayload(b []byte) (RecordPayload, error) {
	var p RecordPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return p, err
	}
	return p, nil
}

// PayloadFor mirrors a combined or entry-log record.
func PayloadFor(rec AttendanceRecord) RecordPayload {
	in := rec.TimeIn
	return RecordPayload{
		StudentNo: rec.StudentNo,
		TimeIn:    &in,
		TimeOut:   rec.TimeOut,
		MethodID:  rec.Method,
	}
}

// ExitPayloadFor mirrors an exit-log record.
func ExitPayloadFor(rec ExitRecord) RecordPayload {
	out := rec.TimeOut
	return RecordPayload{
		StudentNo: rec.StudentNo,
		TimeOut:   &out,
		MethodID:  rec.Method,
	}
}

// Validate checks that a queued entry names a replicated table and carries
// the timestamps that table's upsert is keyed on.
func (e SyncQueueEntry) Validate() (RecordPayload, error) {
	if !e.Operation.Valid() {
		return RecordPayload{}, fmt.Errorf("unknown operation %q", e.Operation)
	}
	p, err := DecodeRecordPayload(e.Payload)
	if err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if p.StudentNo == "" || !p.MethodID.Valid() {
		return p, fmt.Errorf("incomplete payload")
	}
	switch e.Table {
	case TableAttendanceLogs, TableEntryLogs:
		if p.TimeIn == nil {
			return p, fmt.Errorf("%s payload without time_in", e.Table)
		}
	case TableExitLogs:
		if p.TimeOut == nil {
			return p, fmt.Errorf("%s payload without time_out", e.Table)
		}
	default:
		return p, fmt.Errorf("unknown table %q", e.Table)
	}
	return p, nil
}
