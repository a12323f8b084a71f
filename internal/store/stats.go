package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes helper methods to retrieve collection counts for basic
// diagnostics without leaking MongoDB internals to callers.
type StatsProvider struct {
	users    countCollection
	activity countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the provided user and
// activity collections.
func NewStatsProvider(users, activity countCollection) *StatsProvider {
	return &StatsProvider{
		users:    users,
		activity: activity,
	}
}

// CountUsers returns the number of registered users.
func (p *StatsProvider) CountUsers(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}

	return count, nil
}

// CountActivitySince returns the number of activity entries created at or
// after since. A zero since counts the whole log.
func (p *StatsProvider) CountActivitySince(ctx context.Context, since time.Time) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.activity == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	filter := bson.D{}
	if !since.IsZero() {
		filter = bson.D{{Key: "created_at", Value: bson.M{"$gte": since}}}
	}

	count, err := p.activity.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count activity: %w", err)
	}

	return count, nil
}
