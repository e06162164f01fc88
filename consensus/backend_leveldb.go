package consensus

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/bottletopbil/agent-network-sub002/swarmerr"
)

// levelRegister is the RAFT_CONSENSUS-flagged backend. It is not a true
// Raft-replicated log — goleveldb has no network/replication layer of its
// own — but it gives the same atomic read-modify-write semantics via
// transactions and is the clustered-mode storage engine an external
// replication sidecar would sit in front of.
type levelRegister struct {
	db *leveldb.DB
}

// NewLevelRegister opens (creating if needed) the consensus register at
// <stateDir>/consensus-leveldb.
func NewLevelRegister(stateDir string) (Register, error) {
	path := filepath.Join(stateDir, "consensus-leveldb")
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("consensus: open leveldb: %w", err)
	}
	if _, err := db.Get([]byte(levelEpochKey()), nil); err != nil {
		if err == leveldb.ErrNotFound {
			init := epochState{Epoch: 0, StartedAtNs: 0}
			b, encErr := json.Marshal(init)
			if encErr != nil {
				db.Close()
				return nil, encErr
			}
			if putErr := db.Put([]byte(levelEpochKey()), b, nil); putErr != nil {
				db.Close()
				return nil, putErr
			}
		} else {
			db.Close()
			return nil, err
		}
	}
	return &levelRegister{db: db}, nil
}

func levelEpochKey() string { return metaBucket + "|" + epochStateKey }

func levelDecideKey(bucket, needID string) string { return bucket + "|" + needID }

func (r *levelRegister) TryDecide(needID, proposalID string, epoch, lamport int64, kPlan int, deciderID string, tsNs int64) (*DecideRecord, error) {
	tx, err := r.db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("consensus: open tx: %w", err)
	}

	curRaw, err := tx.Get([]byte(levelEpochKey()), nil)
	if err != nil {
		tx.Discard()
		return nil, fmt.Errorf("consensus: read epoch: %w", err)
	}
	var cur epochState
	if err := json.Unmarshal(curRaw, &cur); err != nil {
		tx.Discard()
		return nil, err
	}
	if epoch < cur.Epoch {
		tx.Discard()
		return nil, swarmerr.ErrStaleFencingToken
	}

	key := levelDecideKey(bucketName(BucketForNeed(needID)), needID)
	existingRaw, err := tx.Get([]byte(key), nil)
	if err != nil && err != leveldb.ErrNotFound {
		tx.Discard()
		return nil, fmt.Errorf("consensus: read decide: %w", err)
	}
	if existingRaw != nil {
		existing, decErr := decodeRecord(existingRaw)
		if decErr != nil {
			tx.Discard()
			return nil, decErr
		}
		tx.Discard()
		if existing.ProposalID == proposalID {
			return existing, nil // idempotent retry
		}
		return nil, nil // genuine conflict
	}

	rec := &DecideRecord{
		NeedID: needID, ProposalID: proposalID, Epoch: epoch,
		Lamport: lamport, KPlan: kPlan, DeciderID: deciderID, TimestampNs: tsNs,
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		tx.Discard()
		return nil, err
	}
	if err := tx.Put([]byte(key), raw, nil); err != nil {
		tx.Discard()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("consensus: commit try_decide: %w", err)
	}
	return rec, nil
}

func (r *levelRegister) GetDecide(needID string) (*DecideRecord, error) {
	key := levelDecideKey(bucketName(BucketForNeed(needID)), needID)
	raw, err := r.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(raw)
}

func (r *levelRegister) CurrentEpoch() (int64, error) {
	raw, err := r.db.Get([]byte(levelEpochKey()), nil)
	if err != nil {
		return 0, err
	}
	var e epochState
	if err := json.Unmarshal(raw, &e); err != nil {
		return 0, err
	}
	return e.Epoch, nil
}

func (r *levelRegister) AdvanceEpoch(reason string) (int64, error) {
	tx, err := r.db.OpenTransaction()
	if err != nil {
		return 0, err
	}
	raw, err := tx.Get([]byte(levelEpochKey()), nil)
	if err != nil {
		tx.Discard()
		return 0, err
	}
	var e epochState
	if err := json.Unmarshal(raw, &e); err != nil {
		tx.Discard()
		return 0, err
	}
	e.Epoch++
	e.StartedAtNs++ // monotonic counter, not wall-clock; see boltRegister.monotonicStamp
	b, err := json.Marshal(e)
	if err != nil {
		tx.Discard()
		return 0, err
	}
	if err := tx.Put([]byte(levelEpochKey()), b, nil); err != nil {
		tx.Discard()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("consensus: advance_epoch(%s): %w", reason, err)
	}
	return e.Epoch, nil
}

func (r *levelRegister) FencingToken() (string, error) {
	raw, err := r.db.Get([]byte(levelEpochKey()), nil)
	if err != nil {
		return "", err
	}
	var e epochState
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", err
	}
	return e.fencingToken(), nil
}

func (r *levelRegister) Close() error {
	return r.db.Close()
}

// forceWrite installs rec unconditionally, used only by MergeOnHeal.
func (r *levelRegister) forceWrite(rec *DecideRecord) error {
	key := levelDecideKey(bucketName(BucketForNeed(rec.NeedID)), rec.NeedID)
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return r.db.Put([]byte(key), raw, nil)
}
