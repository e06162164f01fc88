package econ

import "time"

// DefaultChallengeWindowForPayout mirrors challenge.DefaultWindowDuration;
// duplicated here (rather than imported) to avoid a dependency cycle
// between econ and challenge — both are leaves the dispatcher wires
// together.
const DefaultChallengeWindowForPayout = 24 * time.Hour

// PayoutEligible reports whether a task's payout may execute:
//   - at least 2*T_challenge has elapsed since task completion,
//   - the task was never invalidated,
//   - the related-party check passed (no shared org/ASN/identity_hash
//     between challenger and committee — evaluated by the caller and
//     passed in as relatedPartyOK).
func PayoutEligible(nowNs, taskCompletionNs int64, tChallenge time.Duration, invalidated, relatedPartyOK bool) bool {
	if invalidated || !relatedPartyOK {
		return false
	}
	elapsed := time.Duration(nowNs - taskCompletionNs)
	return elapsed >= 2*tChallenge
}

// DistributeWeighted splits total across recipientIDs proportional to
// weights using integer-floor shares; the remainder (total minus the sum
// of floors) is credited to the first recipient
// deterministic remainder rule. len(weights) must equal len(recipientIDs)
// and both must be non-empty.
func DistributeWeighted(total int64, weights []float64, recipientIDs []string) map[string]int64 {
	out := make(map[string]int64, len(recipientIDs))
	if len(recipientIDs) == 0 {
		return out
	}
	var weightSum float64
	for _, w := range weights {
		weightSum += w
	}
	var distributed int64
	for i, id := range recipientIDs {
		if weightSum <= 0 {
			continue
		}
		share := int64(float64(total) * weights[i] / weightSum)
		out[id] += share
		distributed += share
	}
	remainder := total - distributed
	out[recipientIDs[0]] += remainder
	return out
}
