// Package quorum computes K_plan/K_result attestation thresholds and tracks
// ATTEST completion per (need_id, proposal_id), including the
// exactly-once "quorum just completed" signal the dispatcher needs to
// trigger a single DECIDE attempt.
package quorum

import "sync"

// DefaultAlpha and DefaultKTarget are the default K_plan formula constants:
// K_plan = min(k_target, max(1, floor(active_verifiers * alpha))).
const (
	DefaultAlpha          = 0.3
	DefaultKTarget        = 5
	BootstrapThreshold    = 10 // active_verifiers below this forces K_plan=1
	BootstrapKPlan        = 1
)

// KPlan computes the attestation threshold for a proposal given the number
// of currently active verifiers.
func KPlan(activeVerifiers int) int {
	if activeVerifiers < BootstrapThreshold {
		return BootstrapKPlan
	}
	k := int(float64(activeVerifiers) * DefaultAlpha)
	if k < 1 {
		k = 1
	}
	if k > DefaultKTarget {
		k = DefaultKTarget
	}
	return k
}

// EscalateKResult applies the challenge-driven K_result update: exactly one
// upheld challenge bumps K_result by 2; more than one doubles it, capped at
// the active verifier count.
func EscalateKResult(current, upheldCount, activeVerifiers int) int {
	switch {
	case upheldCount == 1:
		return current + 2
	case upheldCount > 1:
		doubled := current * 2
		if doubled > activeVerifiers {
			return activeVerifiers
		}
		return doubled
	default:
		return current
	}
}

// attestKey identifies one (need, proposal) attestation set.
type attestKey struct {
	NeedID     string
	ProposalID string
}

type attestState struct {
	attesters map[string]struct{}
	completed bool // true once quorum has been signaled once (exactly-once)
}

// Tracker holds the live attestation state for a running coordinator.
// Attestation sets are ephemeral working state, not the durable record of
// truth — the DECIDE itself, once reached, is durable in the consensus
// register.
type Tracker struct {
	mu     sync.Mutex
	states map[attestKey]*attestState
	kresult map[string]int // by task_id
}

// NewTracker returns an empty attestation tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states:  make(map[attestKey]*attestState),
		kresult: make(map[string]int),
	}
}

// Attest records an attestation from verifierID for (needID, proposalID).
// It returns (reachedNow, distinctCount): reachedNow is true exactly once,
// on the attestation that first brings the distinct attester count to
// kPlan or above; every subsequent (possibly duplicate) attestation
// returns false even if the count stays at or above kPlan.
func (t *Tracker) Attest(needID, proposalID, verifierID string, kPlan int) (reachedNow bool, distinctCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := attestKey{NeedID: needID, ProposalID: proposalID}
	st, ok := t.states[key]
	if !ok {
		st = &attestState{attesters: make(map[string]struct{})}
		t.states[key] = st
	}
	st.attesters[verifierID] = struct{}{}
	distinctCount = len(st.attesters)

	if !st.completed && distinctCount >= kPlan {
		st.completed = true
		reachedNow = true
	}
	return reachedNow, distinctCount
}

// AttesterCount returns the current distinct attester count for (need,
// proposal), 0 if no attestations have been recorded.
func (t *Tracker) AttesterCount(needID, proposalID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[attestKey{NeedID: needID, ProposalID: proposalID}]
	if !ok {
		return 0
	}
	return len(st.attesters)
}

// KResult returns the current K_result for taskID, defaulting to kPlanSeed
// (the task's original K_plan) the first time it's queried.
func (t *Tracker) KResult(taskID string, kPlanSeed int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.kresult[taskID]; ok {
		return v
	}
	t.kresult[taskID] = kPlanSeed
	return kPlanSeed
}

// EscalateTaskKResult applies EscalateKResult to taskID's stored K_result
// and persists the new value.
func (t *Tracker) EscalateTaskKResult(taskID string, upheldCount, activeVerifiers, kPlanSeed int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.kresult[taskID]
	if !ok {
		cur = kPlanSeed
	}
	next := EscalateKResult(cur, upheldCount, activeVerifiers)
	t.kresult[taskID] = next
	return next
}
