// Package jobs runs background tasks on a cron schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"referral_rewards_bot/internal/dispatcher"
	"referral_rewards_bot/internal/domain"
	"referral_rewards_bot/internal/logging"
	"referral_rewards_bot/internal/reward"
)

const reminderTimeout = 2 * time.Minute

// StreakLister finds users whose streak is still alive from the previous day.
type StreakLister interface {
	ListStreaksCheckedInBetween(ctx context.Context, minStreak int, from, to time.Time) ([]domain.UserRecord, error)
}

// Scheduler sends streak reminders on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	spec      string
	engine    *reward.Engine
	users     StreakLister
	notifier  dispatcher.Notifier
	minStreak int
	clock     reward.Clock
	logger    *logrus.Entry
}

// NewScheduler validates spec and prepares a scheduler evaluating it in loc.
func NewScheduler(spec string, loc *time.Location, minStreak int, engine *reward.Engine, users StreakLister, notifier dispatcher.Notifier, logger *logrus.Entry) (*Scheduler, error) {
	if engine == nil || users == nil || notifier == nil {
		return nil, errors.New("engine, user lister and notifier are required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Logger()
	}
	if minStreak < 1 {
		minStreak = 1
	}

	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse reminder schedule %q: %w", spec, err)
	}

	return &Scheduler{
		cron:      cron.New(cron.WithLocation(loc)),
		spec:      spec,
		engine:    engine,
		users:     users,
		notifier:  notifier,
		minStreak: minStreak,
		clock:     reward.SystemClock{},
		logger:    logger,
	}, nil
}

// Start registers the reminder job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	if _, err := s.cron.AddFunc(s.spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, reminderTimeout)
		defer cancel()

		if _, err := s.SendStreakReminders(runCtx); err != nil {
			s.logger.WithField("event", "reminder_failed").WithError(err).Error("streak reminder run failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}

	s.cron.Start()
	s.logger.WithFields(logging.Fields{
		"event":    "scheduler_started",
		"schedule": s.spec,
	}).Info("job scheduler started")

	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.WithField("event", "scheduler_stopped").Info("job scheduler stopped")
}

// SendStreakReminders notifies every user whose streak breaks unless they
// check in today. It returns the number of reminders delivered.
func (s *Scheduler) SendStreakReminders(ctx context.Context) (int, error) {
	now := s.clock.Now()
	today := s.engine.DayStart(now)
	// Protected streaks survive one missed day, so look back two days.
	from := today.AddDate(0, 0, -2)

	users, err := s.users.ListStreaksCheckedInBetween(ctx, s.minStreak, from, today)
	if err != nil {
		return 0, fmt.Errorf("list streaks: %w", err)
	}

	sent := 0
	for _, user := range users {
		if !s.engine.StreakAtRisk(user, now, s.minStreak) {
			continue
		}

		reply := dispatcher.Reply{
			Text: fmt.Sprintf("Your %d-day streak ends at midnight. Check in with /daily to keep it going!", user.DailyStreak),
			Keyboard: [][]dispatcher.Button{
				{{Text: "📅 Daily", Data: dispatcher.CommandDaily}},
			},
		}
		if err := s.notifier.Notify(ctx, user.UserID, reply); err != nil {
			logging.ForContext(s.logger, logging.Context{UserID: user.UserID, Event: "reminder_send_failed"}).
				WithError(err).Warn("failed to send streak reminder")
			continue
		}
		sent++
	}

	s.logger.WithFields(logging.Fields{
		"event":      "reminders_sent",
		"candidates": len(users),
		"sent":       sent,
	}).Info("streak reminders sent")

	return sent, nil
}
