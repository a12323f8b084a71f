// Package dispatcher maps bot commands to reward engine operations and turns
// their outcomes into replies.
package dispatcher

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"referral_rewards_bot/internal/domain"
	"referral_rewards_bot/internal/logging"
	"referral_rewards_bot/internal/reward"
)

// Users reads and writes reward records.
type Users interface {
	Get(ctx context.Context, userID int64) (domain.UserRecord, error)
	Put(ctx context.Context, user domain.UserRecord) (domain.UserRecord, error)
}

// Registrar creates the default record for first-time users.
type Registrar interface {
	EnsureUser(ctx context.Context, userID int64, username string) (domain.UserRecord, bool, error)
}

// ActivityLog records reward events. Failures are logged and ignored.
type ActivityLog interface {
	Append(ctx context.Context, entry domain.ActivityEntry) error
}

// Notifier delivers a reply to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, reply Reply) error
}

// Dispatcher executes one command per call against the stored user record.
type Dispatcher struct {
	engine      *reward.Engine
	users       Users
	registrar   Registrar
	activity    ActivityLog
	notifier    Notifier
	clock       reward.Clock
	botUsername string
	logger      *logrus.Entry
	format      formatter
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithActivityLog enables activity logging.
func WithActivityLog(activity ActivityLog) Option {
	return func(d *Dispatcher) {
		d.activity = activity
	}
}

// WithNotifier sets the sink used by Handle and for referrer notifications.
func WithNotifier(notifier Notifier) Option {
	return func(d *Dispatcher) {
		d.notifier = notifier
	}
}

// WithClock overrides the wall clock.
func WithClock(clock reward.Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithBotUsername sets the username used in referral links.
func WithBotUsername(username string) Option {
	return func(d *Dispatcher) {
		d.botUsername = strings.TrimPrefix(strings.TrimSpace(username), "@")
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New constructs a Dispatcher.
func New(engine *reward.Engine, users Users, registrar Registrar, opts ...Option) (*Dispatcher, error) {
	if engine == nil {
		return nil, errors.New("reward engine is required")
	}
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if registrar == nil {
		return nil, errors.New("user registrar is required")
	}

	d := &Dispatcher{
		engine:    engine,
		users:     users,
		registrar: registrar,
		clock:     reward.SystemClock{},
		logger:    logging.Logger(),
		format:    newFormatter(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.botUsername == "" {
		return nil, errors.New("bot username is required")
	}

	return d, nil
}

// Handle dispatches cmd and sends the reply to its chat. Send failures are
// logged and not retried.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) {
	reply := d.Dispatch(ctx, cmd)

	logger := logging.ForContext(d.logger, logging.Context{UserID: cmd.UserID, ChatID: cmd.ChatID, Command: cmd.Name})
	if d.notifier == nil {
		logger.WithField("event", "reply_dropped").Warn("no notifier configured")
		return
	}

	if err := d.notifier.Notify(ctx, cmd.ChatID, reply); err != nil {
		logger.WithField("event", "reply_send_failed").WithError(err).Error("failed to send reply")
	}
}

// HandleThrottled tells the sender of a command that was skipped by rate
// limiting to retry shortly.
func (d *Dispatcher) HandleThrottled(ctx context.Context, cmd Command) {
	logger := logging.ForContext(d.logger, logging.Context{UserID: cmd.UserID, ChatID: cmd.ChatID, Command: cmd.Name})
	if d.notifier == nil {
		logger.WithField("event", "reply_dropped").Warn("no notifier configured")
		return
	}

	if err := d.notifier.Notify(ctx, cmd.ChatID, Reply{Text: throttledText}); err != nil {
		logger.WithField("event", "throttle_notice_failed").WithError(err).Warn("failed to send rate limit notice")
	}
}

// Dispatch executes cmd and returns the reply. It never fails: every error is
// turned into a user-facing reply.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) Reply {
	logger := logging.ForContext(d.logger, logging.Context{UserID: cmd.UserID, ChatID: cmd.ChatID, Command: cmd.Name})

	var (
		text string
		err  error
	)

	switch cmd.Name {
	case CommandStart:
		text, err = d.start(ctx, cmd, logger)
	case CommandRefer:
		text, err = d.withoutArgs(ctx, cmd, d.refer)
	case CommandStats:
		text, err = d.withoutArgs(ctx, cmd, d.stats)
	case CommandDaily:
		text, err = d.withoutArgs(ctx, cmd, d.daily)
	case CommandReward:
		text, err = d.withoutArgs(ctx, cmd, d.random)
	default:
		text = d.format.help()
	}

	if err != nil {
		text = d.replyForError(err, logger)
	} else {
		logger.WithField("event", "command_handled").Debug("command handled")
	}

	return Reply{Text: text, Keyboard: menuKeyboard()}
}

func (d *Dispatcher) replyForError(err error, logger *logrus.Entry) string {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		logger.WithField("event", "command_invalid").WithError(err).Info("rejected malformed command")
		return d.format.usage(validation)
	case reward.IsRejection(err):
		logger.WithField("event", "command_rejected").WithError(err).Info("command rejected by reward rules")
		return d.format.rejection(err)
	default:
		logger.WithField("event", "command_failed").WithError(err).Error("command failed")
		return genericFailureText
	}
}

type recordHandler func(ctx context.Context, rec domain.UserRecord) (string, error)

func (d *Dispatcher) withoutArgs(ctx context.Context, cmd Command, handle recordHandler) (string, error) {
	if len(cmd.Args) > 0 {
		return "", &ValidationError{Usage: "/" + cmd.Name + " (this command takes no arguments)"}
	}

	rec, _, err := d.ensureUser(ctx, cmd)
	if err != nil {
		return "", err
	}

	return handle(ctx, rec)
}

// ensureUser loads the caller's record, creating it on first contact.
func (d *Dispatcher) ensureUser(ctx context.Context, cmd Command) (domain.UserRecord, bool, error) {
	rec, created, err := d.registrar.EnsureUser(ctx, cmd.UserID, cmd.Username)
	if err != nil {
		return domain.UserRecord{}, false, dependency("ensure user", err)
	}
	if created {
		d.appendActivity(ctx, domain.NewActivityEntry(rec.UserID, domain.ActivityRegistered, 0, d.clock.Now()))
	}
	return rec, created, nil
}

func (d *Dispatcher) start(ctx context.Context, cmd Command, logger *logrus.Entry) (string, error) {
	if len(cmd.Args) > 1 {
		return "", &ValidationError{Usage: "/start [referral code]"}
	}

	rec, created, err := d.ensureUser(ctx, cmd)
	if err != nil {
		return "", err
	}

	welcome := d.format.welcome(rec, created, d.engine.Config().RandomCooldown)
	if len(cmd.Args) == 0 {
		return welcome, nil
	}

	referrerID, ok := ParseReferralCode(cmd.Args[0])
	if !ok {
		logger.WithFields(logging.Fields{
			"event": "referral_code_invalid",
			"code":  cmd.Args[0],
		}).Info("ignoring malformed referral code")
		return welcome, nil
	}

	// Only the /start that created the record can attribute it. Already
	// referred users fall through so the engine reports the rejection.
	if !created && !rec.IsReferred() {
		logger.WithFields(logging.Fields{
			"event":       "referral_existing_user",
			"referrer_id": referrerID,
		}).Info("referral link used by an existing user")
		return welcome + "\n\n" + d.format.referralExistingUser(), nil
	}

	result, err := d.applyReferral(ctx, rec, referrerID)
	if err != nil {
		if reward.IsRejection(err) {
			logger.WithFields(logging.Fields{
				"event":       "referral_rejected",
				"referrer_id": referrerID,
			}).WithError(err).Info("referral not applied")
			return welcome + "\n\n" + d.format.rejection(err), nil
		}
		return "", err
	}

	logger.WithFields(logging.Fields{
		"event":       "referral_applied",
		"referrer_id": referrerID,
		"reward":      result.Reward,
		"tier":        result.Tier.Name,
	}).Info("referral credited")

	return welcome + "\n\n" + d.format.referralNotice(result.Reward), nil
}

// applyReferral persists the referred user before the referrer so a lost race
// can never credit two referrers for the same user.
func (d *Dispatcher) applyReferral(ctx context.Context, rec domain.UserRecord, referrerID int64) (reward.ReferralResult, error) {
	var referrer *domain.UserRecord
	if referrerID != rec.UserID {
		found, err := d.users.Get(ctx, referrerID)
		switch {
		case err == nil:
			referrer = &found
		case errors.Is(err, domain.ErrNotFound):
		default:
			return reward.ReferralResult{}, dependency("load referrer", err)
		}
	}

	now := d.clock.Now()
	result, err := d.engine.ProcessReferral(rec, referrerID, referrer, now)
	if err != nil {
		return reward.ReferralResult{}, err
	}

	referred, err := d.users.Put(ctx, result.Referred)
	if err != nil {
		return reward.ReferralResult{}, dependency("save referred user", err)
	}
	credited, err := d.users.Put(ctx, result.Referrer)
	if err != nil {
		return reward.ReferralResult{}, dependency("credit referrer", err)
	}
	result.Referred = referred
	result.Referrer = credited

	d.appendActivity(ctx, domain.NewActivityEntry(referred.UserID, domain.ActivityReferral, 0, now).
		WithDetail("referrer_id", strconv.FormatInt(referrerID, 10)))
	d.appendActivity(ctx, domain.NewActivityEntry(referrerID, domain.ActivityReferralCredit, result.Reward, now).
		WithDetail("referred_id", strconv.FormatInt(referred.UserID, 10)).
		WithDetail("tier", result.Tier.Name))

	d.notifyReferrer(ctx, referred, result)

	return result, nil
}

// notifyReferrer messages the referrer's private chat, whose ID equals the
// user ID.
func (d *Dispatcher) notifyReferrer(ctx context.Context, referred domain.UserRecord, result reward.ReferralResult) {
	if d.notifier == nil {
		return
	}

	reply := Reply{Text: d.format.referrerCredit(referred, result), Keyboard: menuKeyboard()}
	if err := d.notifier.Notify(ctx, result.Referrer.UserID, reply); err != nil {
		logging.ForContext(d.logger, logging.Context{UserID: result.Referrer.UserID, Event: "referrer_notify_failed"}).
			WithError(err).Warn("failed to notify referrer")
	}
}

func (d *Dispatcher) refer(_ context.Context, rec domain.UserRecord) (string, error) {
	stats := d.engine.ComputeStats(rec, d.clock.Now())
	return d.format.refer(ReferralLink(d.botUsername, rec.UserID), stats), nil
}

func (d *Dispatcher) stats(_ context.Context, rec domain.UserRecord) (string, error) {
	return d.format.stats(d.engine.ComputeStats(rec, d.clock.Now())), nil
}

func (d *Dispatcher) daily(ctx context.Context, rec domain.UserRecord) (string, error) {
	now := d.clock.Now()
	result, err := d.engine.ProcessDailyCheckIn(rec, now)
	if err != nil {
		return "", err
	}

	saved, err := d.users.Put(ctx, result.Record)
	if err != nil {
		return "", dependency("save daily check-in", err)
	}
	result.Record = saved

	d.appendActivity(ctx, domain.NewActivityEntry(saved.UserID, domain.ActivityDaily, result.Reward, now).
		WithDetail("streak", strconv.Itoa(result.Streak)))

	return d.format.daily(result), nil
}

func (d *Dispatcher) random(ctx context.Context, rec domain.UserRecord) (string, error) {
	now := d.clock.Now()
	result, err := d.engine.ProcessRandomReward(rec, now)
	if err != nil {
		return "", err
	}

	saved, err := d.users.Put(ctx, result.Record)
	if err != nil {
		return "", dependency("save random reward", err)
	}
	result.Record = saved

	d.appendActivity(ctx, domain.NewActivityEntry(saved.UserID, domain.ActivityRandom, result.Amount, now).
		WithDetail("jackpot", strconv.FormatBool(result.Jackpot)))

	cfg := d.engine.Config()
	return d.format.random(result, cfg.JackpotMultiplier, cfg.RandomCooldown), nil
}

func (d *Dispatcher) appendActivity(ctx context.Context, entry domain.ActivityEntry) {
	if d.activity == nil {
		return
	}

	if err := d.activity.Append(ctx, entry); err != nil {
		logging.ForContext(d.logger, logging.Context{UserID: entry.UserID, Event: "activity_append_failed"}).
			WithField("kind", entry.Kind).
			WithError(err).Warn("failed to append activity entry")
	}
}
