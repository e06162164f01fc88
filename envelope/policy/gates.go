package policy

import (
	"context"

	"github.com/bottletopbil/agent-network-sub002/envelope"
)

// Ingress runs the full, authoritative, uncached validation performed on
// receive.
func (g *Gate) Ingress(ctx context.Context, e *envelope.Envelope) Decision {
	reasons, gasUsed, _ := g.evaluateCommon(e)
	version := ""
	if g.Rules != nil {
		version = g.Rules.Hash
	}
	if len(reasons) > 0 {
		return reject(reasons, gasUsed, version)
	}
	return allow(gasUsed, version)
}

// CommitGate validates COMMIT envelopes against claimed-vs-actual telemetry
// ahead of attestation.
func (g *Gate) CommitGate(ctx context.Context, e *envelope.Envelope, claimed, actual Telemetry) Decision {
	reasons, gasUsed, ok := g.evaluateCommon(e)
	version := ""
	if g.Rules != nil {
		version = g.Rules.Hash
	}
	if !ok {
		return reject(reasons, gasUsed, version)
	}
	reasons = append(reasons, claimed.MismatchReasons(actual)...)
	if len(reasons) > 0 {
		return reject(reasons, gasUsed, version)
	}
	return allow(gasUsed, version)
}

// Telemetry is the claimed-or-actual resource usage a COMMIT reports,
// checked by the commit-gate.
type Telemetry struct {
	CPUTimeMs  int64
	MemoryMB   int64
	DiskBytes  int64
	ToleranceX float64 // allowed overshoot factor, e.g. 1.25 = 25% slack
}

// MismatchReasons compares claimed (t) against actual, returning a reason
// string per field that exceeds the tolerance factor.
func (t Telemetry) MismatchReasons(actual Telemetry) []string {
	tol := t.ToleranceX
	if tol <= 0 {
		tol = 1.25
	}
	var reasons []string
	if float64(actual.CPUTimeMs) > float64(t.CPUTimeMs)*tol {
		reasons = append(reasons, "actual cpu_time_ms exceeds claimed within tolerance")
	}
	if float64(actual.MemoryMB) > float64(t.MemoryMB)*tol {
		reasons = append(reasons, "actual memory_mb exceeds claimed within tolerance")
	}
	if float64(actual.DiskBytes) > float64(t.DiskBytes)*tol {
		reasons = append(reasons, "actual disk_bytes exceeds claimed within tolerance")
	}
	return reasons
}
