package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/taxi-dispatch/internal/chat"
)

// Telegram carries driver conversations over the Bot API using long polling.
// Channel ids are chat ids rendered in base 10.
type Telegram struct {
	api         *tgbotapi.BotAPI
	pollTimeout time.Duration
	logger      *slog.Logger
}

func NewTelegram(token string, pollTimeout time.Duration, logger *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logger = logger.With("component", "telegram")
	logger.Info("telegram bot authorized", "username", api.Self.UserName)
	return &Telegram{api: api, pollTimeout: pollTimeout, logger: logger}, nil
}

func (t *Telegram) Send(_ context.Context, msg chat.Message) error {
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad channel id %q", msg.ChannelID)
	}
	out := tgbotapi.NewMessage(chatID, msg.Text)
	if markup, ok := replyMarkup(msg); ok {
		out.ReplyMarkup = markup
	}
	if _, err := t.api.Send(out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// ResolveImage turns a file id into a download URL.
func (t *Telegram) ResolveImage(_ context.Context, _, ref string) (string, error) {
	url, err := t.api.GetFileDirectURL(ref)
	if err != nil {
		return "", fmt.Errorf("telegram file %s: %w", ref, err)
	}
	return url, nil
}

// Run polls for updates until ctx is done. Updates of the same chat are
// handed to h one at a time, in the order received.
func (t *Telegram) Run(ctx context.Context, h chat.Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(t.pollTimeout / time.Second)
	updates := t.api.GetUpdatesChan(u)
	lanes := NewLanes(h)
	defer lanes.Wait()

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := eventFromUpdate(upd)
			if !ok {
				continue
			}
			lanes.Submit(ctx, ev)
		}
	}
}

func eventFromUpdate(upd tgbotapi.Update) (chat.Event, bool) {
	m := upd.Message
	if m == nil || m.Chat == nil {
		return chat.Event{}, false
	}
	ch := strconv.FormatInt(m.Chat.ID, 10)
	switch {
	case m.Contact != nil:
		return chat.ContactEvent(ch, m.Contact.PhoneNumber), true
	case len(m.Photo) > 0:
		// Sizes are ascending; keep the largest.
		return chat.ImageEvent(ch, m.Photo[len(m.Photo)-1].FileID), true
	case m.Document != nil && strings.HasPrefix(m.Document.MimeType, "image/"):
		return chat.ImageEvent(ch, m.Document.FileID), true
	case m.Text != "":
		return chat.TextEvent(ch, m.Text), true
	}
	return chat.Event{}, false
}

func replyMarkup(msg chat.Message) (tgbotapi.ReplyKeyboardMarkup, bool) {
	if len(msg.Keyboard) == 0 {
		return tgbotapi.ReplyKeyboardMarkup{}, false
	}
	rows := make([][]tgbotapi.KeyboardButton, 0, len(msg.Keyboard))
	for _, r := range msg.Keyboard {
		row := make([]tgbotapi.KeyboardButton, 0, len(r))
		for _, b := range r {
			if b.RequestContact {
				row = append(row, tgbotapi.NewKeyboardButtonContact(b.Text))
			} else {
				row = append(row, tgbotapi.NewKeyboardButton(b.Text))
			}
		}
		rows = append(rows, row)
	}
	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.OneTimeKeyboard = msg.OneTime
	return markup, true
}
