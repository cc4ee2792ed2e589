// Package telegram posts pipeline run reports to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/leadwatch/internal/pipeline"
)

const (
	// maxMessageLen is Telegram's message size limit.
	maxMessageLen   = 4096
	maxListedEvents = 15
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends run reports to one chat.
type Notifier struct {
	api    Sender
	chatID int64
	logger log.Logger
}

// New authenticates the bot token against the Telegram API and returns a
// notifier for chatID.
func New(token string, chatID int64, logger log.Logger) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return NewWithSender(api, chatID, logger), nil
}

// NewWithSender returns a notifier using an existing bot client.
func NewWithSender(api Sender, chatID int64, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{api: api, chatID: chatID, logger: logger}
}

// Notify sends the run report. The Telegram client has no context support;
// ctx is checked before sending.
func (n *Notifier) Notify(ctx context.Context, r *pipeline.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, formatReport(r))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}

	n.logger.Info(ctx, "run report sent", "notifier", "telegram", "run_id", r.ID)
	return nil
}

func formatReport(r *pipeline.Report) string {
	var b strings.Builder

	if r.Error != "" {
		fmt.Fprintf(&b, "<b>Lead watch run failed</b>\n%s\n", html.EscapeString(r.Error))
	} else {
		fmt.Fprintf(&b, "<b>Lead watch: %d trigger events</b>\n", len(r.Events))
	}

	fmt.Fprintf(&b, "Sources: %d (%d failed)\n", len(r.Sources), r.FailedSources())
	if r.PersistenceEnabled {
		fmt.Fprintf(&b, "Saved: %d new, %d duplicate, %d failed\n",
			r.Persist.Inserted, r.Persist.Duplicates, r.Persist.Failed)
	} else {
		b.WriteString("Saved: persistence disabled\n")
	}

	for i, ev := range r.Events {
		if i == maxListedEvents {
			fmt.Fprintf(&b, "\n<i>and %d more</i>", len(r.Events)-maxListedEvents)
			break
		}
		fmt.Fprintf(&b, "\n• <b>%s</b> [%s] <a href=\"%s\">%s</a>",
			html.EscapeString(ev.Company),
			ev.Category,
			html.EscapeString(ev.Article.Link),
			html.EscapeString(ev.Article.Title),
		)
	}

	fmt.Fprintf(&b, "\n\n<code>run %s</code>", html.EscapeString(r.ID))

	return clip(b.String(), maxMessageLen)
}

// clip cuts s at a line boundary so no HTML tag is left open.
func clip(s string, limit int) string {
	if len([]rune(s)) <= limit {
		return s
	}
	r := []rune(s)[:limit-4]
	cut := string(r)
	if i := strings.LastIndex(cut, "\n"); i > 0 {
		cut = cut[:i]
	}
	return cut + "\n…"
}
