package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"referral_rewards_bot/internal/domain"
	"referral_rewards_bot/internal/reward"
)

const (
	genericFailureText = "Something went wrong on our side. Please try again later."
	throttledText      = "You're sending commands too fast. Please wait a moment and try again."
)

// Button is an inline keyboard button whose Data is dispatched as a command.
type Button struct {
	Text string
	Data string
}

// Reply is the outbound message for the originating chat.
type Reply struct {
	Text     string
	Keyboard [][]Button
}

func menuKeyboard() [][]Button {
	return [][]Button{
		{
			{Text: "📊 Stats", Data: CommandStats},
			{Text: "📅 Daily", Data: CommandDaily},
		},
		{
			{Text: "🎁 Reward", Data: CommandReward},
			{Text: "👥 Refer", Data: CommandRefer},
		},
		{
			{Text: "❓ Help", Data: CommandHelp},
		},
	}
}

type formatter struct {
	printer *message.Printer
}

func newFormatter() formatter {
	return formatter{printer: message.NewPrinter(language.English)}
}

func (f formatter) points(n int64) string {
	return f.printer.Sprintf("%d", n)
}

func (f formatter) help() string {
	return strings.Join([]string{
		"Available commands:",
		"/start - register and open the menu",
		"/refer - get your referral link",
		"/stats - show your points and progress",
		"/daily - claim your daily check-in reward",
		"/reward - claim a random reward",
		"/help - show this message",
	}, "\n")
}

func (f formatter) welcome(rec domain.UserRecord, created bool, cooldown time.Duration) string {
	greeting := "Welcome back"
	if created {
		greeting = "Welcome"
	}
	if rec.Username != "" {
		greeting += ", @" + rec.Username
	}

	lines := []string{
		greeting + "!",
		"",
		"Earn points by inviting friends, checking in every day and claiming a random reward every " + formatDuration(cooldown) + ".",
		"",
		f.help(),
	}
	return strings.Join(lines, "\n")
}

func (f formatter) referralNotice(amount int64) string {
	return fmt.Sprintf("You joined through a friend's invite. They just earned %s points.", f.points(amount))
}

func (f formatter) referralExistingUser() string {
	return "Referral links only work for new users."
}

func (f formatter) referrerCredit(referred domain.UserRecord, result reward.ReferralResult) string {
	who := "A new friend"
	if referred.Username != "" {
		who = "@" + referred.Username
	}
	return fmt.Sprintf("%s joined with your link! +%s points.\nReferrals: %d\nBalance: %s points",
		who, f.points(result.Reward), result.Referrer.ReferralCount, f.points(result.Referrer.Points))
}

func (f formatter) refer(link string, stats reward.Stats) string {
	lines := []string{
		"Invite friends with your personal link:",
		link,
		"",
		fmt.Sprintf("Tier: %s, %s points per referral", stats.Tier.Name, f.points(stats.Tier.Reward)),
		fmt.Sprintf("Referrals so far: %d", stats.ReferralCount),
	}
	if stats.NextTier != nil {
		lines = append(lines, fmt.Sprintf("%d more to reach %s (%s points per referral)",
			stats.ReferralsToNextTier, stats.NextTier.Name, f.points(stats.NextTier.Reward)))
	}
	return strings.Join(lines, "\n")
}

func (f formatter) stats(stats reward.Stats) string {
	lines := []string{
		"Your stats",
		"Points: " + f.points(stats.Points),
		fmt.Sprintf("Tier: %s (%d referrals)", stats.Tier.Name, stats.ReferralCount),
	}

	if stats.NextTier != nil {
		lines = append(lines, fmt.Sprintf("Next tier: %s in %d referrals", stats.NextTier.Name, stats.ReferralsToNextTier))
	} else {
		lines = append(lines, "Next tier: top tier reached")
	}

	lines = append(lines, fmt.Sprintf("Daily streak: %d (best %d)", stats.DailyStreak, stats.LongestStreak))

	if stats.DailyAvailable {
		lines = append(lines, "Daily check-in: available")
	} else {
		lines = append(lines, "Daily check-in: done for today")
	}

	if stats.RandomCooldown > 0 {
		lines = append(lines, "Random reward: ready in "+formatDuration(stats.RandomCooldown))
	} else {
		lines = append(lines, "Random reward: available")
	}

	return strings.Join(lines, "\n")
}

func (f formatter) daily(result reward.DailyResult) string {
	days := "days"
	if result.Streak == 1 {
		days = "day"
	}

	lines := []string{
		fmt.Sprintf("Daily check-in complete! +%s points", f.points(result.Reward)),
		fmt.Sprintf("Streak: %d %s", result.Streak, days),
	}
	if result.ThreeDayBonus {
		lines = append(lines, "3-day streak bonus included!")
	}
	if result.SevenDayBonus {
		lines = append(lines, "7-day streak bonus included!")
	}
	if result.Protected {
		lines = append(lines, "Streak protection kept your streak alive after a missed day.")
	}
	lines = append(lines, "Balance: "+f.points(result.Record.Points)+" points")

	return strings.Join(lines, "\n")
}

func (f formatter) random(result reward.RandomResult, multiplier int64, cooldown time.Duration) string {
	var headline string
	if result.Jackpot {
		headline = fmt.Sprintf("JACKPOT! %s x%d = %s points!",
			f.points(result.Base), multiplier, f.points(result.Amount))
	} else {
		headline = fmt.Sprintf("You found %s points!", f.points(result.Amount))
	}

	return strings.Join([]string{
		headline,
		"Balance: " + f.points(result.Record.Points) + " points",
		"Next random reward in " + formatDuration(cooldown) + ".",
	}, "\n")
}

func (f formatter) rejection(err error) string {
	var rejection *reward.RejectionError
	remaining := time.Duration(0)
	if errors.As(err, &rejection) {
		remaining = rejection.Remaining
	}

	switch {
	case errors.Is(err, reward.ErrAlreadyCheckedIn):
		return "You already checked in today. Next check-in in " + formatDuration(remaining) + "."
	case errors.Is(err, reward.ErrCooldownActive):
		return "Your next random reward is ready in " + formatDuration(remaining) + "."
	case errors.Is(err, reward.ErrSelfReferral):
		return "You cannot use your own referral link."
	case errors.Is(err, reward.ErrAlreadyReferred):
		return "You were already referred by someone."
	case errors.Is(err, reward.ErrReferrerNotFound):
		return "That referral link is not valid."
	default:
		return genericFailureText
	}
}

func (f formatter) usage(err *ValidationError) string {
	return "Usage: " + err.Usage
}

// formatDuration renders d as "3h 12m", rounding up to the next minute.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}

	minutes := int64((d + time.Minute - 1) / time.Minute)
	hours := minutes / 60
	minutes %= 60

	if hours == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
