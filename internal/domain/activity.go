package domain

import (
	"time"

	"github.com/google/uuid"
)

// Activity kinds recorded in the append-only log.
const (
	ActivityRegistered     = "registered"
	ActivityReferral       = "referral"
	ActivityReferralCredit = "referral_credit"
	ActivityDaily          = "daily"
	ActivityRandom         = "random"
)

// ActivityEntry is a single append-only log line describing a reward event.
type ActivityEntry struct {
	EntryID   string            `bson:"entry_id" json:"entry_id"`
	UserID    int64             `bson:"user_id" json:"user_id"`
	Kind      string            `bson:"kind" json:"kind"`
	Amount    int64             `bson:"amount" json:"amount"`
	Details   map[string]string `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
}

// NewActivityEntry builds an entry with a fresh identifier.
func NewActivityEntry(userID int64, kind string, amount int64, now time.Time) ActivityEntry {
	return ActivityEntry{
		EntryID:   uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		CreatedAt: now,
	}
}

// WithDetail returns a copy of the entry with the key set in Details.
func (e ActivityEntry) WithDetail(key, value string) ActivityEntry {
	details := make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	e.Details = details
	return e
}
