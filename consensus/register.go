// Package consensus implements the sharded at-most-once DECIDE register and
// durable epoch fencing. Two interchangeable embedded-KV backends share one
// Register interface, selected by the RAFT_CONSENSUS environment flag:
// bbolt is the bootstrap/default single-node variant; goleveldb is the
// clustered-flagged variant. Neither implements true Raft leader election —
// that replication layer is expected to sit in front of this storage engine.
package consensus

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// NumBuckets is the number of consensus shards: the first byte of
// SHA-256(need_id) selects one of 256 uniformly distributed buckets.
const NumBuckets = 256

// DecideRecord is the at-most-once winning proposal for a NEED.
type DecideRecord struct {
	NeedID      string `json:"need_id"`
	ProposalID  string `json:"proposal_id"`
	Epoch       int64  `json:"epoch"`
	Lamport     int64  `json:"lamport"`
	KPlan       int    `json:"k_plan"`
	DeciderID   string `json:"decider_id"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// Register is the consensus register interface every backend implements.
type Register interface {
	// TryDecide attempts an at-most-once DECIDE for need_id. It returns
	// (record, nil) on fresh success or idempotent retry, (nil, nil) on a
	// genuine conflict, and (nil, swarmerr.ErrStaleFencingToken) when epoch
	// is behind the current epoch.
	TryDecide(needID, proposalID string, epoch, lamport int64, kPlan int, deciderID string, tsNs int64) (*DecideRecord, error)
	GetDecide(needID string) (*DecideRecord, error)

	CurrentEpoch() (int64, error)
	AdvanceEpoch(reason string) (int64, error)
	FencingToken() (string, error)

	Close() error
}

// BucketForNeed returns 0..256, the shard a need_id maps to.
func BucketForNeed(needID string) int {
	sum := sha256.Sum256([]byte(needID))
	return int(sum[0])
}

// bucketName renders a shard index as its key-space prefix, e.g.
// "bucket-003".
func bucketName(n int) string {
	return fmt.Sprintf("bucket-%03d", n)
}

func encodeRecord(r *DecideRecord) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(raw []byte) (*DecideRecord, error) {
	var r DecideRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// epochState is the durable fencing state.
type epochState struct {
	Epoch       int64 `json:"epoch"`
	StartedAtNs int64 `json:"started_at_ns"`
}

func (e epochState) fencingToken() string {
	return fmt.Sprintf("epoch-%d-%d", e.Epoch, e.StartedAtNs)
}

const metaBucket = "meta"
const epochStateKey = "epoch_state"

var errUnsupportedRegisterForMerge = fmt.Errorf("consensus: merge_on_heal: unsupported register implementation")
