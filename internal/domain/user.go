// Package domain defines the reward records and their MongoDB repositories.
package domain

import "time"

// UserRecord is the persisted reward state of a single Telegram user.
type UserRecord struct {
	UserID                int64      `bson:"user_id" json:"user_id"`
	Username              string     `bson:"username,omitempty" json:"username,omitempty"`
	Points                int64      `bson:"points" json:"points"`
	ReferralCount         int        `bson:"referral_count" json:"referral_count"`
	ReferredBy            *int64     `bson:"referred_by" json:"referred_by,omitempty"`
	DailyStreak           int        `bson:"daily_streak" json:"daily_streak"`
	LongestStreak         int        `bson:"longest_streak" json:"longest_streak"`
	LastDailyCheckIn      *time.Time `bson:"last_daily_check_in" json:"last_daily_check_in,omitempty"`
	LastRandomRewardClaim *time.Time `bson:"last_random_reward_claim" json:"last_random_reward_claim,omitempty"`
	CreatedAt             time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `bson:"updated_at" json:"updated_at"`
	// Version is bumped on every successful Put and guards against lost updates.
	Version int64 `bson:"version" json:"version"`
}

// NewUserRecord returns the default record for a user seen for the first time.
func NewUserRecord(userID int64, username string, now time.Time) UserRecord {
	return UserRecord{
		UserID:    userID,
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsReferred reports whether a referrer has already been attributed.
func (u UserRecord) IsReferred() bool {
	return u.ReferredBy != nil
}
