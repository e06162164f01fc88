// Package policy implements the three policy gates (preflight, ingress,
// commit-gate): rule evaluation, gas metering, and a bounded preflight
// cache.
package policy

import "fmt"

// Gas costs: each operation (field access, comparison, set-membership)
// costs a fixed gas amount.
const (
	GasFieldAccess     = 1
	GasComparison      = 1
	GasSetMembership   = 2
	DefaultGasLimit    = 100_000
)

// Meter threads a gas counter through rule evaluation, bounded per call.
type Meter struct {
	limit int
	used  int
}

// NewMeter starts a meter with the given limit (0 uses DefaultGasLimit).
func NewMeter(limit int) *Meter {
	if limit <= 0 {
		limit = DefaultGasLimit
	}
	return &Meter{limit: limit}
}

// ErrGasExceeded is returned by Charge once the limit is exhausted.
var ErrGasExceeded = fmt.Errorf("policy: gas limit exceeded")

// Charge deducts cost from the remaining budget, returning ErrGasExceeded
// once the limit is hit.
func (m *Meter) Charge(cost int) error {
	m.used += cost
	if m.used > m.limit {
		return ErrGasExceeded
	}
	return nil
}

// Used returns the gas consumed so far.
func (m *Meter) Used() int { return m.used }
