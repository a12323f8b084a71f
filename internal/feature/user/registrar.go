// Package user provides helpers for user registration and lifecycle updates.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"referral_rewards_bot/internal/domain"
	"referral_rewards_bot/internal/logging"
)

type userCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

// Registrar ensures users are present in the database with zeroed reward
// state and keeps their Telegram username current.
type Registrar struct {
	users  userCollection
	logger *logrus.Entry
	now    func() time.Time
}

// NewRegistrar constructs a Registrar for the provided users collection.
func NewRegistrar(users userCollection, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureUser upserts the default record for userID if it is missing and
// returns the stored record. The boolean reports whether the record was
// created by this call. Existing reward state is never touched.
func (r *Registrar) EnsureUser(ctx context.Context, userID int64, username string) (domain.UserRecord, bool, error) {
	if r == nil || r.users == nil {
		return domain.UserRecord{}, false, errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return domain.UserRecord{}, false, errors.New("context is required")
	}
	if userID == 0 {
		return domain.UserRecord{}, false, errors.New("user id is required")
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	update := bson.M{
		"$setOnInsert": bson.M{
			"user_id":                  userID,
			"points":                   int64(0),
			"referral_count":           0,
			"referred_by":              nil,
			"daily_streak":             0,
			"longest_streak":           0,
			"last_daily_check_in":      nil,
			"last_random_reward_claim": nil,
			"created_at":               now,
			"updated_at":               now,
			"version":                  int64(0),
		},
	}
	if username != "" {
		update["$set"] = bson.M{"username": username}
	}

	filter := bson.M{"user_id": userID}
	result, err := r.users.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return domain.UserRecord{}, false, fmt.Errorf("ensure user: %w", err)
	}

	found := r.users.FindOne(ctx, filter)
	if found == nil {
		return domain.UserRecord{}, false, errors.New("find user returned no result")
	}
	var record domain.UserRecord
	if err := found.Decode(&record); err != nil {
		return domain.UserRecord{}, false, fmt.Errorf("load user: %w", err)
	}

	created := result != nil && result.UpsertedCount > 0
	if created {
		r.logger.WithFields(logging.Fields{
			"event":   "user_registered",
			"user_id": userID,
		}).Info("registered new user")
		return record, true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_seen",
		"user_id": userID,
	}).Debug("user already registered")

	return record, false, nil
}
