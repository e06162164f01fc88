package policy

import (
	"context"
	"fmt"

	"github.com/bottletopbil/agent-network-sub002/cas"
	"github.com/bottletopbil/agent-network-sub002/envelope"
	"github.com/bottletopbil/agent-network-sub002/swarmcrypto"
)

// Decision is the result of a policy gate evaluation.
type Decision struct {
	Allowed       bool     `json:"allowed"`
	Reasons       []string `json:"reasons"`
	GasUsed       int      `json:"gas_used"`
	PolicyVersion string   `json:"policy_version"`
}

// Ruleset is the loaded, hashed policy rule configuration.
type Ruleset struct {
	Hash           string // policy_engine_hash: 64-hex SHA-256 of the canonical rule set
	RequiredFields []string
}

// Gate evaluates envelopes against a Ruleset using the given CAS (for the
// COMMIT artifact-existence rule).
type Gate struct {
	Rules *Ruleset
	CAS   cas.Store
}

func reject(reasons []string, gasUsed int, version string) Decision {
	return Decision{Allowed: false, Reasons: reasons, GasUsed: gasUsed, PolicyVersion: version}
}

func allow(gasUsed int, version string) Decision {
	return Decision{Allowed: true, Reasons: nil, GasUsed: gasUsed, PolicyVersion: version}
}

// evaluateCommon runs the rules common to every gate: kind membership,
// payload size, policy hash pin, required fields, and signature validity.
// It returns (reasons, gasUsed, ok) where ok is false as soon as the gas
// meter is exhausted (short-circuiting further rule evaluation).
func (g *Gate) evaluateCommon(e *envelope.Envelope) ([]string, int, bool) {
	meter := NewMeter(DefaultGasLimit)
	var reasons []string

	charge := func(cost int) bool {
		if err := meter.Charge(cost); err != nil {
			reasons = append(reasons, "Gas limit exceeded")
			return false
		}
		return true
	}

	if !charge(GasSetMembership) {
		return reasons, meter.Used(), false
	}
	if _, ok := envelope.AllowedKinds[e.Kind]; !ok {
		reasons = append(reasons, fmt.Sprintf("unknown kind %q", e.Kind))
	}

	if !charge(GasComparison) {
		return reasons, meter.Used(), false
	}
	canonPayload, err := swarmcrypto.Canonicalize(e.Payload)
	if err != nil {
		reasons = append(reasons, "payload not canonicalizable")
	} else if len(canonPayload) > envelope.MaxPayloadBytes {
		reasons = append(reasons, "canonical payload exceeds 64 KiB")
	}

	if !charge(GasComparison) {
		return reasons, meter.Used(), false
	}
	if g.Rules != nil && e.PolicyEngineHash != g.Rules.Hash {
		reasons = append(reasons, "policy_engine_hash mismatch")
	}

	for _, field := range requiredOr(g.Rules) {
		if !charge(GasFieldAccess) {
			return reasons, meter.Used(), false
		}
		if !hasField(e, field) {
			reasons = append(reasons, fmt.Sprintf("missing required field %q", field))
		}
	}

	if !charge(GasComparison) {
		return reasons, meter.Used(), false
	}
	ok, err := envelope.Verify(e)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("signature verification error: %v", err))
	} else if !ok {
		reasons = append(reasons, "invalid signature")
	}

	if e.Kind == envelope.KindCommit {
		if !charge(GasFieldAccess + GasSetMembership) {
			return reasons, meter.Used(), false
		}
		reasons = append(reasons, g.checkCommitArtifact(e)...)
	}

	return reasons, meter.Used(), true
}

func (g *Gate) checkCommitArtifact(e *envelope.Envelope) []string {
	hash, _ := e.Payload["artifact_hash"].(string)
	if hash == "" {
		return []string{"COMMIT missing artifact_hash"}
	}
	if g.CAS == nil {
		return []string{"no CAS configured to verify artifact_hash"}
	}
	has, err := g.CAS.Has(context.Background(), hash)
	if err != nil {
		return []string{fmt.Sprintf("error checking CAS for artifact_hash: %v", err)}
	}
	if !has {
		return []string{"artifact_hash not present in CAS"}
	}
	return nil
}

func requiredOr(r *Ruleset) []string {
	if r == nil || len(r.RequiredFields) == 0 {
		return []string{"thread_id", "lamport", "actor_id"}
	}
	return r.RequiredFields
}

func hasField(e *envelope.Envelope, field string) bool {
	switch field {
	case "thread_id":
		return e.ThreadID != ""
	case "lamport":
		return e.Lamport > 0
	case "actor_id":
		_, ok := e.Payload["actor_id"]
		if ok {
			return true
		}
		return e.SenderPKB64 != ""
	default:
		_, ok := e.Payload[field]
		return ok
	}
}
