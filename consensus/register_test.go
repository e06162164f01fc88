package consensus

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bottletopbil/agent-network-sub002/swarmerr"
)

func TestTryDecideFreshThenIdempotentRetry(t *testing.T) {
	reg, err := NewBoltRegister(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	rec, err := reg.TryDecide("need-1", "prop-A", 0, 10, 3, "decider-1", 1000)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "prop-A", rec.ProposalID)

	retry, err := reg.TryDecide("need-1", "prop-A", 0, 10, 3, "decider-1", 1000)
	require.NoError(t, err)
	require.NotNil(t, retry)
	require.Equal(t, "prop-A", retry.ProposalID)
}

func TestTryDecideConflictReturnsNil(t *testing.T) {
	reg, err := NewBoltRegister(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	_, err = reg.TryDecide("need-2", "prop-A", 0, 10, 3, "decider-1", 1000)
	require.NoError(t, err)

	conflict, err := reg.TryDecide("need-2", "prop-B", 0, 11, 3, "decider-2", 1001)
	require.NoError(t, err)
	require.Nil(t, conflict, "a different proposal for an already-decided need must not win")

	got, err := reg.GetDecide("need-2")
	require.NoError(t, err)
	require.Equal(t, "prop-A", got.ProposalID)
}

func TestTryDecideRejectsStaleEpoch(t *testing.T) {
	reg, err := NewBoltRegister(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	_, err = reg.AdvanceEpoch("test")
	require.NoError(t, err)
	_, err = reg.AdvanceEpoch("test")
	require.NoError(t, err)

	_, err = reg.TryDecide("need-3", "prop-A", 0, 10, 3, "decider-1", 1000)
	require.ErrorIs(t, err, swarmerr.ErrStaleFencingToken)
}

func TestAdvanceEpochIsMonotonic(t *testing.T) {
	reg, err := NewBoltRegister(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	e1, err := reg.AdvanceEpoch("a")
	require.NoError(t, err)
	e2, err := reg.AdvanceEpoch("b")
	require.NoError(t, err)
	require.Greater(t, e2, e1)

	tok, err := reg.FencingToken()
	require.NoError(t, err)
	require.Contains(t, tok, fmt.Sprintf("epoch-%d-", e2))
}

// TestDecideIsAtMostOnceUnderConcurrency races 120 goroutines (10 per
// need_id) across 12 need_ids, each drawn so it lands in its own shard, and
// checks that exactly one proposal wins per need_id no matter how many
// goroutines raced for it.
func TestDecideIsAtMostOnceUnderConcurrency(t *testing.T) {
	reg, err := NewBoltRegister(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	const needs = 12
	const racersPerNeed = 10
	needIDs := make([]string, 0, needs)
	usedShards := make(map[int]bool)
	for len(needIDs) < needs {
		id := uuid.NewString()
		if usedShards[BucketForNeed(id)] {
			continue
		}
		usedShards[BucketForNeed(id)] = true
		needIDs = append(needIDs, id)
	}

	var wg sync.WaitGroup
	type outcome struct {
		needIdx int
		rec     *DecideRecord
	}
	results := make(chan outcome, needs*racersPerNeed)

	for ni, needID := range needIDs {
		for r := 0; r < racersPerNeed; r++ {
			wg.Add(1)
			go func(ni int, needID string, r int) {
				defer wg.Done()
				rec, err := reg.TryDecide(needID, fmt.Sprintf("prop-%d-%d", ni, r), 0, int64(r+1), 3, fmt.Sprintf("decider-%d", r), int64(r))
				require.NoError(t, err)
				results <- outcome{needIdx: ni, rec: rec}
			}(ni, needID, r)
		}
	}
	wg.Wait()
	close(results)

	winners := make(map[int]string)
	wins := make(map[int]int)
	for o := range results {
		if o.rec == nil {
			continue
		}
		wins[o.needIdx]++
		if existing, ok := winners[o.needIdx]; ok {
			require.Equal(t, existing, o.rec.ProposalID, "need %d must have exactly one winning proposal", o.needIdx)
		} else {
			winners[o.needIdx] = o.rec.ProposalID
		}
	}
	require.Len(t, winners, needs, "every need must reach exactly one decision")

	shards := make(map[int]bool)
	for _, id := range needIDs {
		shards[BucketForNeed(id)] = true
	}
	require.GreaterOrEqual(t, len(shards), 10)
}
