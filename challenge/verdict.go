package challenge

// GovernanceBondThreshold routes a challenge to a governance vote when its
// bond is at or above this amount.
const GovernanceBondThreshold = 500

// DisagreementThreshold: when |upheld-rejected|/total falls below this
// ratio (i.e. the committee disagrees by 30% or more), more verifiers are
// requested before a verdict is finalized.
const DisagreementThreshold = 0.7

// LowConfidenceThreshold routes a challenge to human review when the
// average verifier confidence falls below it.
const LowConfidenceThreshold = 0.7

// Verdict is one verifier's assessment of a challenge.
type Verdict struct {
	VerifierID string
	Upheld     bool
	Confidence float64
	Reasoning  string
}

// Outcome is the final disposition of a challenge.
type Outcome string

const (
	OutcomeUpheld    Outcome = "UPHELD"
	OutcomeRejected  Outcome = "REJECTED"
	OutcomeWithdrawn Outcome = "WITHDRAWN"
)

// Escalation names an action required before a verdict can be finalized.
type Escalation string

const (
	EscalationNone             Escalation = ""
	EscalationMoreVerifiers    Escalation = "more_verifiers"
	EscalationHumanReview      Escalation = "human_review"
	EscalationGovernanceVote   Escalation = "governance_vote"
)

// Evaluate aggregates verdicts into an outcome (or an escalation if the
// committee hasn't converged) for a challenge with the given bond.
func Evaluate(verdicts []Verdict, bond int64) (Outcome, Escalation) {
	if bond >= GovernanceBondThreshold {
		return "", EscalationGovernanceVote
	}
	if len(verdicts) == 0 {
		return "", EscalationMoreVerifiers
	}

	var upheld, rejected int
	var confidenceSum float64
	for _, v := range verdicts {
		if v.Upheld {
			upheld++
		} else {
			rejected++
		}
		confidenceSum += v.Confidence
	}
	total := upheld + rejected
	avgConfidence := confidenceSum / float64(total)

	disagreement := absInt(upheld-rejected)
	if float64(disagreement)/float64(total) < DisagreementThreshold {
		return "", EscalationMoreVerifiers
	}
	if avgConfidence < LowConfidenceThreshold {
		return "", EscalationHumanReview
	}

	if upheld > rejected {
		return OutcomeUpheld, EscalationNone
	}
	return OutcomeRejected, EscalationNone
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// WithdrawnBondReturn is the fraction of the bond returned on a voluntary
// withdrawal (bond minus a 10% fee).
const WithdrawnBondReturn = 0.9

// BondReturnForWithdrawal computes the amount returned to a challenger who
// withdraws their own challenge.
func BondReturnForWithdrawal(bond int64) int64 {
	return int64(float64(bond) * WithdrawnBondReturn)
}

// UpheldRewardMultiplier is the multiplier paid to a challenger whose challenge is
// upheld, on top of the returned bond.
const UpheldRewardMultiplier = 2

// UpheldPayout computes (bondReturned, reward) for an upheld challenge: the
// bond is returned in full and the challenger additionally receives
// 2x the bond as a reward.
func UpheldPayout(bond int64) (bondReturned, reward int64) {
	return bond, bond * UpheldRewardMultiplier
}
