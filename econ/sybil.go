package econ

import (
	"crypto/sha256"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bottletopbil/agent-network-sub002/swarmerr"
)

// DefaultMinDIDStake is the MIN_DID_STAKE floor for stake-backed identity
// creation.
const DefaultMinDIDStake = int64(1000)

// DIDRateLimiter enforces "at most N create_did_key calls per account per
// hour" using one token bucket per account.
type DIDRateLimiter struct {
	mu        sync.Mutex
	perHour   int
	limiters  map[string]*rate.Limiter
}

// NewDIDRateLimiter returns a limiter allowing perHour calls/hour/account.
func NewDIDRateLimiter(perHour int) *DIDRateLimiter {
	return &DIDRateLimiter{perHour: perHour, limiters: make(map[string]*rate.Limiter)}
}

func (d *DIDRateLimiter) limiterFor(accountID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[accountID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(d.perHour)/3600.0), d.perHour)
		d.limiters[accountID] = l
	}
	return l
}

func (d *DIDRateLimiter) Allow(accountID string, now time.Time) bool {
	return d.limiterFor(accountID).AllowN(now, 1)
}

// CreateDIDKeyWithStake authorizes a DID creation for accountID when it
// holds at least minStake (DefaultMinDIDStake if zero) and hasn't exceeded
// its hourly rate limit.
func CreateDIDKeyWithStake(accountID string, stake, minStake int64, limiter *DIDRateLimiter, now time.Time) (string, error) {
	if minStake <= 0 {
		minStake = DefaultMinDIDStake
	}
	if stake < minStake {
		return "", &swarmerr.InsufficientStake{Account: accountID, Have: stake, Need: minStake}
	}
	if limiter != nil && !limiter.Allow(accountID, now) {
		return "", &swarmerr.RateLimitExceeded{Challenger: accountID, Window: "hour", RetryAfter: time.Hour}
	}
	return didID(accountID, now), nil
}

// SolveDIDProofOfWork is the no-stake fallback: it searches for a nonce
// such that SHA-256(accountID || nonce) has at least `difficulty` leading
// zero bits, for accounts that can't meet the stake requirement.
func SolveDIDProofOfWork(accountID string, difficulty int) (nonce uint64) {
	for {
		if leadingZeroBits(powHash(accountID, nonce)) >= difficulty {
			return nonce
		}
		nonce++
	}
}

// VerifyDIDProofOfWork checks a claimed proof-of-work solution.
func VerifyDIDProofOfWork(accountID string, nonce uint64, difficulty int) bool {
	return leadingZeroBits(powHash(accountID, nonce)) >= difficulty
}

func powHash(accountID string, nonce uint64) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%s:%d", accountID, nonce)))
}

func leadingZeroBits(h [32]byte) int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(b)
		break
	}
	return count
}

func didID(accountID string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", accountID, now.UnixNano())))
	return fmt.Sprintf("did:swarm:%x", sum[:16])
}
