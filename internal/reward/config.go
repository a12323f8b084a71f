package reward

import (
	"errors"
	"fmt"
	"time"
)

// Tier is a referral-count bracket. A referrer whose count is at least
// MinReferrals (and below the next tier's minimum) earns Reward per referral.
type Tier struct {
	Name         string
	MinReferrals int
	Reward       int64
}

// Config holds every tunable the engine uses.
type Config struct {
	// Tiers must start at zero referrals and be strictly ascending.
	Tiers []Tier

	DailyBase           int64
	DailyThreeDayBonus  int64
	DailySevenDayBonus  int64
	StreakProtectionMin int

	RandomMin         int64
	RandomMax         int64
	JackpotChance     float64
	JackpotMultiplier int64
	RandomCooldown    time.Duration

	// Location defines calendar days for check-ins. Nil means UTC.
	Location *time.Location
}

// DefaultTiers returns the standard referral tier table.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "Bronze", MinReferrals: 0, Reward: 25000},
		{Name: "Silver", MinReferrals: 5, Reward: 30000},
		{Name: "Gold", MinReferrals: 15, Reward: 40000},
		{Name: "Platinum", MinReferrals: 30, Reward: 50000},
	}
}

// DefaultConfig returns the standard reward rules.
func DefaultConfig() Config {
	return Config{
		Tiers:               DefaultTiers(),
		DailyBase:           1000,
		DailyThreeDayBonus:  2000,
		DailySevenDayBonus:  5000,
		StreakProtectionMin: 7,
		RandomMin:           500,
		RandomMax:           5000,
		JackpotChance:       0.1,
		JackpotMultiplier:   5,
		RandomCooldown:      4 * time.Hour,
		Location:            time.UTC,
	}
}

// Validate reports the first inconsistency in the configuration.
func (c Config) Validate() error {
	if len(c.Tiers) == 0 {
		return errors.New("at least one tier is required")
	}
	if c.Tiers[0].MinReferrals != 0 {
		return fmt.Errorf("first tier %q must start at 0 referrals", c.Tiers[0].Name)
	}
	for i, tier := range c.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("tier %d has no name", i)
		}
		if tier.Reward <= 0 {
			return fmt.Errorf("tier %q reward must be positive", tier.Name)
		}
		if i > 0 && tier.MinReferrals <= c.Tiers[i-1].MinReferrals {
			return fmt.Errorf("tier %q must start above %d referrals", tier.Name, c.Tiers[i-1].MinReferrals)
		}
	}

	if c.DailyBase < 0 || c.DailyThreeDayBonus < 0 || c.DailySevenDayBonus < 0 {
		return errors.New("daily rewards must not be negative")
	}
	if c.StreakProtectionMin < 1 {
		return errors.New("streak protection threshold must be at least 1")
	}
	if c.RandomMin <= 0 {
		return errors.New("random reward minimum must be positive")
	}
	if c.RandomMax < c.RandomMin {
		return fmt.Errorf("random reward maximum %d is below minimum %d", c.RandomMax, c.RandomMin)
	}
	if c.JackpotChance < 0 || c.JackpotChance > 1 {
		return fmt.Errorf("jackpot chance %v must be within [0, 1]", c.JackpotChance)
	}
	if c.JackpotMultiplier < 1 {
		return errors.New("jackpot multiplier must be at least 1")
	}
	if c.RandomCooldown <= 0 {
		return errors.New("random reward cooldown must be positive")
	}

	return nil
}

// TierFor returns the tier matching count. Negative counts map to the first
// tier.
func (c Config) TierFor(count int) Tier {
	idx := c.tierIndex(count)
	return c.Tiers[idx]
}

// NextTier returns the tier after the one matching count, or false when count
// is already in the top tier.
func (c Config) NextTier(count int) (Tier, bool) {
	idx := c.tierIndex(count)
	if idx+1 >= len(c.Tiers) {
		return Tier{}, false
	}
	return c.Tiers[idx+1], true
}

func (c Config) tierIndex(count int) int {
	idx := 0
	for i, tier := range c.Tiers {
		if count >= tier.MinReferrals {
			idx = i
		}
	}
	return idx
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
