package challenge

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Abuse limits: at most 10 challenges/hour, 50/day, and a spam flag if 5
// or more arrive within any 60-second window.
const (
	HourlyLimit  = 10
	DailyLimit   = 50
	SpamCount    = 5
	SpamWindow   = 60 * time.Second
)

type challengerState struct {
	hourly *rate.Limiter
	daily  *rate.Limiter
	recent []time.Time // ring of the last SpamCount timestamps, oldest first
}

// AbuseDetector enforces per-challenger rate limits and flags spam bursts.
// rate.Limiter expresses the hourly/daily token-bucket rules cleanly; it
// can't express "N events within a sliding T," so a small timestamp ring
// backs that one rule, following the teacher's own hand-rolled
// sliding-window style in native/potso/penalty.
type AbuseDetector struct {
	mu    sync.Mutex
	byID  map[string]*challengerState
	clock func() time.Time
}

// NewAbuseDetector returns an empty detector. clock defaults to time.Now.
func NewAbuseDetector(clock func() time.Time) *AbuseDetector {
	if clock == nil {
		clock = time.Now
	}
	return &AbuseDetector{byID: make(map[string]*challengerState), clock: clock}
}

func (d *AbuseDetector) stateFor(challengerID string) *challengerState {
	s, ok := d.byID[challengerID]
	if !ok {
		s = &challengerState{
			hourly: rate.NewLimiter(rate.Limit(float64(HourlyLimit)/3600.0), HourlyLimit),
			daily:  rate.NewLimiter(rate.Limit(float64(DailyLimit)/86400.0), DailyLimit),
		}
		d.byID[challengerID] = s
	}
	return s
}

// Allow reports whether challengerID may file another challenge now, and
// if not, why ("rate_limit_hourly", "rate_limit_daily", or "spam").
func (d *AbuseDetector) Allow(challengerID string) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stateFor(challengerID)
	now := d.clock()

	if !s.hourly.AllowN(now, 1) {
		return false, "rate_limit_hourly"
	}
	if !s.daily.AllowN(now, 1) {
		return false, "rate_limit_daily"
	}

	cutoff := now.Add(-SpamWindow)
	kept := s.recent[:0]
	for _, ts := range s.recent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.recent = kept
	if len(s.recent) >= SpamCount-1 {
		s.recent = append(s.recent, now)
		return false, "spam"
	}
	s.recent = append(s.recent, now)
	return true, ""
}
