package p2p

import "time"

// BanScore is a decay-per-minute misbehavior counter, reused
// unmodified in spirit: it is policy, not consensus, and applies
// identically to a BFT node's peer connections.
const (
	BanThreshold       = 100
	ThrottleThreshold  = 50
	ThrottleDelay      = 500 * time.Millisecond
	BanDurationDefault = 24 * time.Hour

	BanScoreDecaysPerMinute = 1
)

// BanScore tracks a peer's accumulated misbehavior, decaying over time.
type BanScore struct {
	score       int
	lastUpdated time.Time
}

func (b *BanScore) Score(now time.Time) int {
	b.decayTo(now)
	return b.score
}

func (b *BanScore) Add(now time.Time, delta int) int {
	b.decayTo(now)
	b.score += delta
	if b.score < 0 {
		b.score = 0
	}
	return b.score
}

func (b *BanScore) ShouldBan(now time.Time) bool { return b.Score(now) >= BanThreshold }

func (b *BanScore) ShouldThrottle(now time.Time) bool { return b.Score(now) >= ThrottleThreshold }

func (b *BanScore) decayTo(now time.Time) {
	if b.lastUpdated.IsZero() {
		b.lastUpdated = now
		return
	}
	if now.Before(b.lastUpdated) {
		b.lastUpdated = now
		return
	}
	minutes := int(now.Sub(b.lastUpdated) / time.Minute)
	if minutes <= 0 {
		return
	}
	b.score -= minutes * BanScoreDecaysPerMinute
	if b.score < 0 {
		b.score = 0
	}
	b.lastUpdated = now
}
