// Package audit implements the signed JSONL audit stream: every bus
// publish, ingress delivery, DECIDE attempt, and slash produces a line,
// and the stream is the sole input to deterministic replay.
package audit

import "encoding/json"

// Kind enumerates the audit event categories.
type Kind string

const (
	KindBusPublish     Kind = "BUS_PUBLISH"
	KindIngress        Kind = "INGRESS"
	KindDecideAttempt  Kind = "DECIDE_ATTEMPT"
	KindSlash          Kind = "SLASH"
	KindCompleteUnbond Kind = "COMPLETE_UNBONDING"
)

// Record is one audit-log entry before signing.
type Record struct {
	RecordID string          `json:"record_id"`
	ThreadID string          `json:"thread_id,omitempty"`
	Kind     Kind            `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	TsNs     int64           `json:"ts_ns"`
}
