// Package bot drives a driver's conversation: the main menu, the registration
// wizard and the passenger-rating prompt that follows a finished trip.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/taxi-dispatch/internal/chat"
	"github.com/example/taxi-dispatch/internal/drivers"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/orders"
	"github.com/example/taxi-dispatch/internal/session"
)

type Bot struct {
	sessions  session.Store
	drivers   *drivers.Service
	orders    *orders.Service
	messenger chat.Messenger
	media     chat.MediaResolver
	logger    *slog.Logger
	locks     channelLocks
}

func New(sessions session.Store, drv *drivers.Service, ord *orders.Service, messenger chat.Messenger,
	media chat.MediaResolver, logger *slog.Logger) *Bot {
	return &Bot{
		sessions:  sessions,
		drivers:   drv,
		orders:    ord,
		messenger: messenger,
		media:     media,
		logger:    logger.With("component", "bot"),
		locks:     channelLocks{m: make(map[string]*channelLock)},
	}
}

// Handle processes one inbound event. Events of one channel are handled in
// arrival order; different channels proceed independently. Failures are
// reported to the driver and logged, never propagated.
func (b *Bot) Handle(ctx context.Context, ev chat.Event) {
	unlock := b.locks.lock(ev.ChannelID)
	defer unlock()
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("panic recovered", "channel_id", ev.ChannelID, "error", rec)
		}
	}()

	observability.ChatEvents.WithLabelValues(ev.Kind.String()).Inc()
	if err := b.route(ctx, ev); err != nil {
		b.logger.Error("handle event", "channel_id", ev.ChannelID, "kind", ev.Kind.String(), "error", err)
		b.reply(ctx, ev.ChannelID, msgGenericFailure, chat.MainMenu())
	}
}

func (b *Bot) route(ctx context.Context, ev chat.Event) error {
	ch := ev.ChannelID

	pending, awaiting, err := b.sessions.PendingRating(ctx, ch)
	if err != nil {
		return err
	}
	if awaiting {
		return b.rating(ctx, ev, pending)
	}

	reg, err := b.sessions.Registration(ctx, ch)
	if err != nil {
		return err
	}
	if reg.Active() || ev.Kind == chat.KindContact {
		return b.wizard(ctx, ev, reg)
	}

	if ev.Kind != chat.KindCommand {
		b.logger.Debug("ignored input", "channel_id", ch, "kind", ev.Kind.String())
		return nil
	}
	switch ev.Command {
	case chat.CmdStart:
		b.reply(ctx, ch, msgWelcome, chat.MainMenu())
	case chat.CmdRegister:
		return b.startRegistration(ctx, ch, "")
	case chat.CmdOnline:
		b.toggle(ctx, ch, b.drivers.GoOnline, msgOnline, msgOnlineFailed)
	case chat.CmdOffline:
		b.toggle(ctx, ch, b.drivers.GoOffline, msgOffline, msgOfflineFailed)
	case chat.CmdFinish:
		b.finish(ctx, ch)
	case chat.CmdStatus:
		b.status(ctx, ch)
	case chat.CmdCancel:
		b.reply(ctx, ch, msgMainMenu, chat.MainMenu())
	}
	return nil
}

// rating interprets every input as the passenger score until a valid one is
// stored.
func (b *Bot) rating(ctx context.Context, ev chat.Event, pending session.PendingRating) error {
	ch := ev.ChannelID
	if ev.Kind != chat.KindRatingDigit {
		b.reply(ctx, ch, msgRatePrompt, ratingKeyboard())
		return nil
	}
	agg, err := b.orders.RatePassenger(ctx, ch, ev.Digit)
	switch {
	case err == nil:
		b.logger.Info("passenger rated", "channel_id", ch, "order_id", pending.OrderID, "score", ev.Digit, "passenger_avg", agg.Avg)
		b.reply(ctx, ch, msgRatingSaved, chat.MainMenu())
	case errors.Is(err, models.ErrInvalidRating):
		b.reply(ctx, ch, msgRatePrompt, ratingKeyboard())
	case errors.Is(err, models.ErrValidation):
		b.reply(ctx, ch, msgRatingDropped, chat.MainMenu())
	case errors.Is(err, models.ErrNoPendingRating):
		b.reply(ctx, ch, msgMainMenu, chat.MainMenu())
	default:
		b.logger.Error("save passenger rating", "channel_id", ch, "order_id", pending.OrderID, "error", err)
		b.reply(ctx, ch, msgRatingFailed, ratingKeyboard())
	}
	return nil
}

type toggleFunc func(ctx context.Context, channelID string) (*models.Driver, error)

func (b *Bot) toggle(ctx context.Context, ch string, fn toggleFunc, okText, failText string) {
	_, err := fn(ctx, ch)
	switch {
	case err == nil:
		b.reply(ctx, ch, okText, chat.MainMenu())
	case errors.Is(err, models.ErrDriverNotFound):
		b.reply(ctx, ch, msgRegisterFirst, chat.MainMenu())
	case errors.Is(err, models.ErrDriverBusy):
		b.reply(ctx, ch, msgFinishFirst, [][]chat.Button{chat.Row(chat.LabelFinish)})
	default:
		b.logger.Error("status change", "channel_id", ch, "error", err)
		b.reply(ctx, ch, failText, chat.MainMenu())
	}
}

func (b *Bot) finish(ctx context.Context, ch string) {
	res, err := b.orders.Finish(ctx, ch)
	switch {
	case errors.Is(err, models.ErrDriverNotFound):
		b.reply(ctx, ch, msgRegisterFirst, chat.MainMenu())
	case err != nil:
		b.logger.Error("finish order", "channel_id", ch, "error", err)
		b.reply(ctx, ch, msgFinishFailed, chat.MainMenu())
	case res.Missing:
		b.reply(ctx, ch, msgOrderMissing, chat.MainMenu())
	case res.Order == nil || res.Order.Status != models.OrderFinished:
		b.reply(ctx, ch, msgOnline, chat.MainMenu())
	default:
		b.sendOneTime(ctx, ch, msgTripFinished, ratingKeyboard())
	}
}

func (b *Bot) status(ctx context.Context, ch string) {
	d, err := b.drivers.LookupByChannel(ctx, ch)
	switch {
	case errors.Is(err, models.ErrDriverNotFound):
		b.reply(ctx, ch, msgRegisterFirst, chat.MainMenu())
	case err != nil:
		b.logger.Error("status lookup", "channel_id", ch, "error", err)
		b.reply(ctx, ch, msgStatusFailed, chat.MainMenu())
	default:
		b.reply(ctx, ch, statusText(d), chat.MainMenu())
	}
}

func (b *Bot) reply(ctx context.Context, ch, text string, keyboard [][]chat.Button) {
	b.send(ctx, chat.Message{ChannelID: ch, Text: text, Keyboard: keyboard})
}

func (b *Bot) sendOneTime(ctx context.Context, ch, text string, keyboard [][]chat.Button) {
	b.send(ctx, chat.Message{ChannelID: ch, Text: text, Keyboard: keyboard, OneTime: true})
}

func (b *Bot) send(ctx context.Context, msg chat.Message) {
	if err := b.messenger.Send(ctx, msg); err != nil {
		b.logger.Warn("reply not delivered", "channel_id", msg.ChannelID, "error", err)
	}
}

func ratingKeyboard() [][]chat.Button {
	return [][]chat.Button{chat.Row("1", "2", "3", "4", "5")}
}

func statusText(d *models.Driver) string {
	online := "-"
	if d.OnlineSince != nil {
		online = d.OnlineSince.Local().Format("15:04")
	}
	rating := "-"
	if d.RatingsCount > 0 {
		rating = fmt.Sprintf("%.2f (%d)", d.AvgRating, d.RatingsCount)
	}
	return fmt.Sprintf("Your details:\nName: %s\nPhone: %s\nCar: %s\nPlate: %s\nStatus: %s\nOnline since: %s\nRating: %s",
		dash(d.Name), dash(d.Phone), dash(d.CarBrand), dash(d.CarPlate), d.Status, online, rating)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type channelLock struct {
	mu   sync.Mutex
	refs int
}

// channelLocks serializes handling per channel and forgets idle channels.
type channelLocks struct {
	mu sync.Mutex
	m  map[string]*channelLock
}

func (c *channelLocks) lock(id string) func() {
	c.mu.Lock()
	l, ok := c.m[id]
	if !ok {
		l = &channelLock{}
		c.m[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.m, id)
		}
		c.mu.Unlock()
	}
}
