package econ

import "math"

// Candidate is a verifier eligible for committee selection.
type Candidate struct {
	VerifierID    string
	Stake         int64
	Reputation    float64
	RecencyFactor float64
	TeeMultiplier float64
	OrgID         string
	ASN           string
	Region        string
}

// SelectionWeight = sqrt(stake) * reputation * recency_factor * tee_multiplier.
func SelectionWeight(c Candidate) float64 {
	return math.Sqrt(float64(c.Stake)) * c.Reputation * c.RecencyFactor * c.TeeMultiplier
}

// DiversityLimits caps the fraction of a committee any one org/ASN/region
// may occupy.
type DiversityLimits struct {
	MaxOrgFraction    float64
	MaxASNFraction    float64
	MaxRegionFraction float64
}

// DefaultDiversityLimits caps a committee at <=30% one org, <=40% one
// ASN, <=50% one region.
var DefaultDiversityLimits = DiversityLimits{MaxOrgFraction: 0.3, MaxASNFraction: 0.4, MaxRegionFraction: 0.5}

// SelectCommittee draws size candidates from pool, weighted by
// SelectionWeight, via rejection sampling against DiversityLimits. It
// makes at most maxAttempts draws total; if diversity can't be satisfied
// within that budget it falls back to filling remaining seats by raw
// weight, ignoring diversity, so selection always terminates. A candidate
// with an empty OrgID, ASN or Region is not counted against that limit.
func SelectCommittee(pool []Candidate, size int, limits DiversityLimits, maxAttempts int, pick func(weights []float64) int) []Candidate {
	if size <= 0 || len(pool) == 0 {
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = size * 20
	}

	chosen := make([]Candidate, 0, size)
	chosenIdx := make(map[int]bool)
	orgCount, asnCount, regionCount := map[string]int{}, map[string]int{}, map[string]int{}

	attempts := 0
	for len(chosen) < size && attempts < maxAttempts && len(chosenIdx) < len(pool) {
		attempts++
		weights := make([]float64, len(pool))
		for i, c := range pool {
			if chosenIdx[i] {
				continue
			}
			weights[i] = SelectionWeight(c)
		}
		idx := pick(weights)
		if idx < 0 || idx >= len(pool) || chosenIdx[idx] {
			continue
		}
		c := pool[idx]
		// Diversity fractions are checked against the target committee
		// size, not the partial count so far — otherwise the very first
		// pick would always be "100% of 1" and fail any limit below 1.0.
		if (c.OrgID != "" && exceedsLimit(orgCount[c.OrgID]+1, size, limits.MaxOrgFraction)) ||
			(c.ASN != "" && exceedsLimit(asnCount[c.ASN]+1, size, limits.MaxASNFraction)) ||
			(c.Region != "" && exceedsLimit(regionCount[c.Region]+1, size, limits.MaxRegionFraction)) {
			continue // would violate diversity; try another draw
		}
		chosen = append(chosen, c)
		chosenIdx[idx] = true
		orgCount[c.OrgID]++
		asnCount[c.ASN]++
		regionCount[c.Region]++
	}

	// Bounded fallback: fill any remaining seats ignoring diversity so
	// selection always produces `size` members when the pool allows it.
	if len(chosen) < size {
		for i, c := range pool {
			if len(chosen) >= size {
				break
			}
			if chosenIdx[i] {
				continue
			}
			chosen = append(chosen, c)
			chosenIdx[i] = true
		}
	}
	return chosen
}

func exceedsLimit(countIfAdded, totalIfAdded int, maxFraction float64) bool {
	if maxFraction <= 0 {
		return false
	}
	return float64(countIfAdded)/float64(totalIfAdded) > maxFraction
}
