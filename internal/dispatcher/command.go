package dispatcher

import (
	"fmt"
	"strconv"
	"strings"
)

// Command names understood by the dispatcher. Callback buttons carry the same
// names as their data.
const (
	CommandStart  = "start"
	CommandRefer  = "refer"
	CommandStats  = "stats"
	CommandDaily  = "daily"
	CommandReward = "reward"
	CommandHelp   = "help"
)

const referralPrefix = "ref"

// Command is a normalized inbound interaction.
type Command struct {
	UserID   int64
	ChatID   int64
	Username string
	// Name is the lowercased command without slash or @BotName suffix. It is
	// empty for plain text.
	Name string
	Args []string
}

// ParseCommand splits a message text into command name and arguments. Text
// that does not start with a slash yields an empty name.
func ParseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}

	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}

	var args []string
	if len(fields) > 1 {
		args = fields[1:]
	}

	return strings.ToLower(name), args
}

// ReferralLink builds the deep link that starts the bot with userID's code.
func ReferralLink(botUsername string, userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, ReferralCode(userID))
}

// ReferralCode encodes userID as a /start payload.
func ReferralCode(userID int64) string {
	return referralPrefix + strconv.FormatInt(userID, 10)
}

// ParseReferralCode extracts the referrer ID from a /start payload.
func ParseReferralCode(code string) (int64, bool) {
	digits, ok := strings.CutPrefix(strings.TrimSpace(code), referralPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}

	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}
