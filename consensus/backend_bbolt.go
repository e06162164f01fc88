package consensus

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/bottletopbil/agent-network-sub002/swarmerr"
)

func jsonEncodeEpoch(e epochState) ([]byte, error) { return json.Marshal(e) }

func jsonDecodeEpoch(raw []byte, e *epochState) error { return json.Unmarshal(raw, e) }

// boltRegister is the bootstrap/default single-node backend: one bucket per
// consensus shard plus a reserved meta bucket holding the epoch state.
type boltRegister struct {
	db *bbolt.DB
}

// NewBoltRegister opens (creating if needed) the consensus register at
// <stateDir>/consensus.db.
func NewBoltRegister(stateDir string) (Register, error) {
	path := filepath.Join(stateDir, "consensus.db")
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("consensus: open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for i := 0; i < NumBuckets; i++ {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucketName(i))); err != nil {
				return err
			}
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		if meta.Get([]byte(epochStateKey)) == nil {
			init := epochState{Epoch: 0, StartedAtNs: 0}
			b, err := jsonEncodeEpoch(init)
			if err != nil {
				return err
			}
			return meta.Put([]byte(epochStateKey), b)
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("consensus: init buckets: %w", err)
	}
	return &boltRegister{db: db}, nil
}

func (r *boltRegister) TryDecide(needID, proposalID string, epoch, lamport int64, kPlan int, deciderID string, tsNs int64) (*DecideRecord, error) {
	bucket := bucketName(BucketForNeed(needID))
	var result *DecideRecord
	var stale bool
	err := r.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		cur, err := readEpoch(meta)
		if err != nil {
			return err
		}
		if epoch < cur.Epoch {
			stale = true
			return nil
		}

		b := tx.Bucket([]byte(bucket))
		existingRaw := b.Get([]byte(needID))
		if existingRaw != nil {
			existing, err := decodeRecord(existingRaw)
			if err != nil {
				return err
			}
			if existing.ProposalID == proposalID {
				result = existing // idempotent retry
				return nil
			}
			// genuine conflict: a different proposal already won
			return nil
		}

		rec := &DecideRecord{
			NeedID: needID, ProposalID: proposalID, Epoch: epoch,
			Lamport: lamport, KPlan: kPlan, DeciderID: deciderID, TimestampNs: tsNs,
		}
		raw, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(needID), raw); err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("consensus: try_decide: %w", err)
	}
	if stale {
		return nil, swarmerr.ErrStaleFencingToken
	}
	return result, nil
}

func (r *boltRegister) GetDecide(needID string) (*DecideRecord, error) {
	bucket := bucketName(BucketForNeed(needID))
	var rec *DecideRecord
	err := r.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(bucket)).Get([]byte(needID))
		if raw == nil {
			return nil
		}
		var err error
		rec, err = decodeRecord(raw)
		return err
	})
	return rec, err
}

func (r *boltRegister) CurrentEpoch() (int64, error) {
	var e epochState
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		e, err = readEpoch(tx.Bucket([]byte(metaBucket)))
		return err
	})
	return e.Epoch, err
}

func (r *boltRegister) AdvanceEpoch(reason string) (int64, error) {
	var newEpoch int64
	err := r.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		cur, err := readEpoch(meta)
		if err != nil {
			return err
		}
		cur.Epoch++
		cur.StartedAtNs = monotonicStamp(tx)
		newEpoch = cur.Epoch
		b, err := jsonEncodeEpoch(cur)
		if err != nil {
			return err
		}
		return meta.Put([]byte(epochStateKey), b)
	})
	if err != nil {
		return 0, fmt.Errorf("consensus: advance_epoch(%s): %w", reason, err)
	}
	return newEpoch, nil
}

func (r *boltRegister) FencingToken() (string, error) {
	var tok string
	err := r.db.View(func(tx *bbolt.Tx) error {
		e, err := readEpoch(tx.Bucket([]byte(metaBucket)))
		if err != nil {
			return err
		}
		tok = e.fencingToken()
		return nil
	})
	return tok, err
}

func (r *boltRegister) Close() error {
	return r.db.Close()
}

// forceWrite installs rec unconditionally, used only by MergeOnHeal.
func (r *boltRegister) forceWrite(rec *DecideRecord) error {
	bucket := bucketName(BucketForNeed(rec.NeedID))
	return r.db.Update(func(tx *bbolt.Tx) error {
		raw, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(rec.NeedID), raw)
	})
}

func readEpoch(meta *bbolt.Bucket) (epochState, error) {
	raw := meta.Get([]byte(epochStateKey))
	if raw == nil {
		return epochState{}, nil
	}
	var e epochState
	if err := jsonDecodeEpoch(raw, &e); err != nil {
		return epochState{}, err
	}
	return e, nil
}

// monotonicStamp derives a strictly increasing counter from the transaction's
// own ID, so epoch fencing tokens stay deterministic and reproducible under
// replay rather than depending on wall-clock time.
func monotonicStamp(tx *bbolt.Tx) int64 {
	return int64(tx.ID())
}
