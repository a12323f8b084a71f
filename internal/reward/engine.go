// Package reward computes point awards, tier progression and cooldown/streak
// enforcement from a user's record and the current time. The engine is pure:
// it never reads the clock, never performs I/O and never mutates its inputs.
package reward

import (
	"errors"
	"fmt"
	"time"

	"referral_rewards_bot/internal/domain"
)

// Engine applies the reward rules of a Config.
type Engine struct {
	cfg Config
	rng Source
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSource replaces the random source used for random rewards.
func WithSource(src Source) Option {
	return func(e *Engine) {
		if src != nil {
			e.rng = src
		}
	}
}

// NewEngine validates cfg and constructs an Engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reward config: %w", err)
	}

	cfg.Location = cfg.location()
	cfg.Tiers = append([]Tier(nil), cfg.Tiers...)

	engine := &Engine{cfg: cfg, rng: globalSource{}}
	for _, opt := range opts {
		opt(engine)
	}

	return engine, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Tiers = append([]Tier(nil), e.cfg.Tiers...)
	return cfg
}

// ReferralResult is the outcome of a successful referral.
type ReferralResult struct {
	Referred domain.UserRecord
	Referrer domain.UserRecord
	Reward   int64
	// Tier is the referrer's tier before this referral was counted.
	Tier Tier
}

// ProcessReferral attributes newUser to the referrer identified by
// referrerID. referrer is nil when no such user exists.
func (e *Engine) ProcessReferral(newUser domain.UserRecord, referrerID int64, referrer *domain.UserRecord, now time.Time) (ReferralResult, error) {
	if e == nil {
		return ReferralResult{}, errors.New("reward engine is not initialized")
	}
	if newUser.IsReferred() {
		return ReferralResult{}, reject(ErrAlreadyReferred, 0)
	}
	if referrerID == newUser.UserID {
		return ReferralResult{}, reject(ErrSelfReferral, 0)
	}
	if referrer == nil || referrer.UserID != referrerID {
		return ReferralResult{}, reject(ErrReferrerNotFound, 0)
	}

	tier := e.cfg.TierFor(referrer.ReferralCount)

	referred := copyRecord(newUser)
	id := referrerID
	referred.ReferredBy = &id
	referred.UpdatedAt = now

	credited := copyRecord(*referrer)
	credited.ReferralCount++
	credited.Points += tier.Reward
	credited.UpdatedAt = now

	return ReferralResult{
		Referred: referred,
		Referrer: credited,
		Reward:   tier.Reward,
		Tier:     tier,
	}, nil
}

// DailyResult is the outcome of a successful daily check-in.
type DailyResult struct {
	Record        domain.UserRecord
	Reward        int64
	Streak        int
	ThreeDayBonus bool
	SevenDayBonus bool
	// Protected is set when a missed day was forgiven.
	Protected bool
}

// ProcessDailyCheckIn grants the daily reward once per calendar day.
func (e *Engine) ProcessDailyCheckIn(rec domain.UserRecord, now time.Time) (DailyResult, error) {
	if e == nil {
		return DailyResult{}, errors.New("reward engine is not initialized")
	}

	streak := 1
	protected := false
	if rec.LastDailyCheckIn != nil {
		days := e.daysBetween(*rec.LastDailyCheckIn, now)
		switch {
		case days <= 0:
			return DailyResult{}, reject(ErrAlreadyCheckedIn, e.untilNextDay(now))
		case days == 1:
			streak = rec.DailyStreak + 1
		case days == 2 && rec.DailyStreak >= e.cfg.StreakProtectionMin:
			streak = rec.DailyStreak + 1
			protected = true
		}
	}

	threeDay := streak%3 == 0
	sevenDay := streak%7 == 0

	amount := e.cfg.DailyBase
	if threeDay {
		amount += e.cfg.DailyThreeDayBonus
	}
	if sevenDay {
		amount += e.cfg.DailySevenDayBonus
	}

	next := copyRecord(rec)
	next.DailyStreak = streak
	if streak > next.LongestStreak {
		next.LongestStreak = streak
	}
	next.Points += amount
	next.LastDailyCheckIn = timePtr(now)
	next.UpdatedAt = now

	return DailyResult{
		Record:        next,
		Reward:        amount,
		Streak:        streak,
		ThreeDayBonus: threeDay,
		SevenDayBonus: sevenDay,
		Protected:     protected,
	}, nil
}

// RandomResult is the outcome of a successful random reward claim.
type RandomResult struct {
	Record  domain.UserRecord
	Base    int64
	Amount  int64
	Jackpot bool
}

// ProcessRandomReward grants a random amount once per cooldown period.
func (e *Engine) ProcessRandomReward(rec domain.UserRecord, now time.Time) (RandomResult, error) {
	if e == nil {
		return RandomResult{}, errors.New("reward engine is not initialized")
	}

	if remaining := e.randomCooldown(rec, now); remaining > 0 {
		return RandomResult{}, reject(ErrCooldownActive, remaining)
	}

	span := e.cfg.RandomMax - e.cfg.RandomMin + 1
	base := e.cfg.RandomMin + int64(e.rng.IntN(int(span)))

	amount := base
	jackpot := e.rng.Float64() < e.cfg.JackpotChance
	if jackpot {
		amount = base * e.cfg.JackpotMultiplier
	}

	next := copyRecord(rec)
	next.Points += amount
	next.LastRandomRewardClaim = timePtr(now)
	next.UpdatedAt = now

	return RandomResult{
		Record:  next,
		Base:    base,
		Amount:  amount,
		Jackpot: jackpot,
	}, nil
}

// Stats is a read-only summary of a user's reward state.
type Stats struct {
	Points        int64
	ReferralCount int
	Tier          Tier
	// NextTier is nil in the top tier.
	NextTier            *Tier
	ReferralsToNextTier int
	DailyStreak         int
	LongestStreak       int
	DailyAvailable      bool
	// RandomCooldown is zero when a random reward can be claimed now.
	RandomCooldown time.Duration
}

// ComputeStats summarizes rec at now.
func (e *Engine) ComputeStats(rec domain.UserRecord, now time.Time) Stats {
	stats := Stats{
		Points:         rec.Points,
		ReferralCount:  rec.ReferralCount,
		Tier:           e.cfg.TierFor(rec.ReferralCount),
		DailyStreak:    rec.DailyStreak,
		LongestStreak:  rec.LongestStreak,
		DailyAvailable: rec.LastDailyCheckIn == nil || e.daysBetween(*rec.LastDailyCheckIn, now) >= 1,
		RandomCooldown: e.randomCooldown(rec, now),
	}

	if next, ok := e.cfg.NextTier(rec.ReferralCount); ok {
		stats.NextTier = &next
		stats.ReferralsToNextTier = next.MinReferrals - rec.ReferralCount
	}
	if stats.LongestStreak < stats.DailyStreak {
		stats.LongestStreak = stats.DailyStreak
	}

	return stats
}

// StreakAtRisk reports whether rec holds a streak of at least minStreak that
// will break unless the user checks in before the end of now's calendar day.
// That covers a check-in yesterday and a protected streak that already
// missed yesterday.
func (e *Engine) StreakAtRisk(rec domain.UserRecord, now time.Time, minStreak int) bool {
	if rec.LastDailyCheckIn == nil || rec.DailyStreak < minStreak {
		return false
	}
	switch e.daysBetween(*rec.LastDailyCheckIn, now) {
	case 1:
		return true
	case 2:
		return rec.DailyStreak >= e.cfg.StreakProtectionMin
	default:
		return false
	}
}

// DayStart returns the start of now's calendar day in the engine location.
func (e *Engine) DayStart(now time.Time) time.Time {
	local := now.In(e.cfg.location())
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, local.Location())
}

func (e *Engine) randomCooldown(rec domain.UserRecord, now time.Time) time.Duration {
	if rec.LastRandomRewardClaim == nil {
		return 0
	}
	remaining := rec.LastRandomRewardClaim.Add(e.cfg.RandomCooldown).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// daysBetween counts calendar-day boundaries from a to b in the engine
// location. It is negative when b falls on an earlier day than a.
func (e *Engine) daysBetween(a, b time.Time) int {
	loc := e.cfg.location()
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()

	start := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	end := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}

func (e *Engine) untilNextDay(now time.Time) time.Duration {
	return e.DayStart(now).AddDate(0, 0, 1).Sub(now)
}

func copyRecord(rec domain.UserRecord) domain.UserRecord {
	out := rec
	if rec.ReferredBy != nil {
		id := *rec.ReferredBy
		out.ReferredBy = &id
	}
	if rec.LastDailyCheckIn != nil {
		out.LastDailyCheckIn = timePtr(*rec.LastDailyCheckIn)
	}
	if rec.LastRandomRewardClaim != nil {
		out.LastRandomRewardClaim = timePtr(*rec.LastRandomRewardClaim)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
