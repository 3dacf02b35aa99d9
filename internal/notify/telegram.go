// Package notify pushes the few events that cannot wait for someone to
// look at the dashboard: critical risk alerts and emergency stops.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Notifier sends operator alerts over Telegram. A zero-value notifier
// (no token configured) drops everything silently.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewNotifier connects the bot. Empty token disables notifications
// without error.
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		log.Debug().Msg("Telegram notifications disabled")
		return &Notifier{}, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram notifier connected")
	return &Notifier{api: api, chatID: chatID}, nil
}

// Enabled reports whether a bot is actually wired up.
func (n *Notifier) Enabled() bool {
	return n.api != nil
}

// CriticalAlert pushes a risk alert.
func (n *Notifier) CriticalAlert(severity, message string) {
	n.send(fmt.Sprintf("🚨 *%s risk alert*\n%s", severity, message))
}

// EmergencyStop pushes an emergency-stop notice.
func (n *Notifier) EmergencyStop(reason string) {
	if reason == "" {
		reason = "triggered from console"
	}
	n.send(fmt.Sprintf("🛑 *Emergency stop*\n%s", reason))
}

// BackendDown pushes a backend outage notice.
func (n *Notifier) BackendDown(detail string) {
	n.send(fmt.Sprintf("⚠️ *Backend unreachable*\n%s", detail))
}

func (n *Notifier) send(text string) {
	if n.api == nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
