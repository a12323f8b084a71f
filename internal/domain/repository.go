package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when no record exists for the requested key.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write lost an optimistic-concurrency race.
	ErrConflict = errors.New("record was modified concurrently")
)

type userCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

type insertCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// UserRepository persists and retrieves reward records in MongoDB.
type UserRepository struct {
	collection userCollection
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(collection userCollection) *UserRepository {
	return &UserRepository{collection: collection}
}

// Get fetches a record by Telegram user_id. Missing records yield ErrNotFound.
func (r *UserRepository) Get(ctx context.Context, userID int64) (UserRecord, error) {
	if r == nil || r.collection == nil {
		return UserRecord{}, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return UserRecord{}, errors.New("context is required")
	}
	if userID == 0 {
		return UserRecord{}, errors.New("user_id is required")
	}

	result := r.collection.FindOne(ctx, bson.M{"user_id": userID})
	if result == nil {
		return UserRecord{}, errors.New("find user returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return UserRecord{}, fmt.Errorf("find user %d: %w", userID, ErrNotFound)
		}
		return UserRecord{}, fmt.Errorf("find user: %w", err)
	}

	var user UserRecord
	if err := result.Decode(&user); err != nil {
		return UserRecord{}, fmt.Errorf("decode user: %w", err)
	}

	return user, nil
}

// Put writes the reward fields of the record if its version still matches the
// stored one. On success the returned record carries the bumped version; a
// concurrent writer causes ErrConflict and nothing is written.
func (r *UserRepository) Put(ctx context.Context, user UserRecord) (UserRecord, error) {
	if r == nil || r.collection == nil {
		return UserRecord{}, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return UserRecord{}, errors.New("context is required")
	}
	if user.UserID == 0 {
		return UserRecord{}, errors.New("user_id is required")
	}

	user.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	next := user.Version + 1

	set := bson.M{
		"points":                   user.Points,
		"referral_count":           user.ReferralCount,
		"referred_by":              int64OrNil(user.ReferredBy),
		"daily_streak":             user.DailyStreak,
		"longest_streak":           user.LongestStreak,
		"last_daily_check_in":      timeOrNil(user.LastDailyCheckIn),
		"last_random_reward_claim": timeOrNil(user.LastRandomRewardClaim),
		"updated_at":               user.UpdatedAt,
		"version":                  next,
	}
	if user.Username != "" {
		set["username"] = user.Username
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"user_id": user.UserID, "version": user.Version},
		bson.M{"$set": set},
	)
	if err != nil {
		return UserRecord{}, fmt.Errorf("update user: %w", err)
	}
	if result == nil || result.MatchedCount == 0 {
		return UserRecord{}, fmt.Errorf("update user %d at version %d: %w", user.UserID, user.Version, ErrConflict)
	}

	user.Version = next
	return user, nil
}

// ListStreaksCheckedInBetween returns users whose streak is at least minStreak
// and whose last check-in falls within [from, to).
func (r *UserRepository) ListStreaksCheckedInBetween(ctx context.Context, minStreak int, from, to time.Time) ([]UserRecord, error) {
	if r == nil || r.collection == nil {
		return nil, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := r.collection.Find(ctx, bson.M{
		"daily_streak":        bson.M{"$gte": minStreak},
		"last_daily_check_in": bson.M{"$gte": from, "$lt": to},
	})
	if err != nil {
		return nil, fmt.Errorf("find streaks: %w", err)
	}

	var users []UserRecord
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode streaks: %w", err)
	}

	return users, nil
}

// ActivityLog appends reward events to the activity collection.
type ActivityLog struct {
	collection insertCollection
}

// NewActivityLog constructs an ActivityLog.
func NewActivityLog(collection insertCollection) *ActivityLog {
	return &ActivityLog{collection: collection}
}

// Append inserts the entry, filling the creation time when omitted.
func (l *ActivityLog) Append(ctx context.Context, entry ActivityEntry) error {
	if l == nil || l.collection == nil {
		return errors.New("activity log is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if entry.UserID == 0 {
		return errors.New("user_id is required")
	}
	if entry.Kind == "" {
		return errors.New("kind is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	if _, err := l.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	return nil
}

func int64OrNil(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func timeOrNil(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
