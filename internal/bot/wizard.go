package bot

import (
	"context"
	"errors"

	"github.com/example/taxi-dispatch/internal/chat"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/session"
)

// Registration steps:
//
//	idle → ask_phone → ask_name → ask_brand → ask_plate → ask_photo → idle
//
// Nothing reaches the store before the photo arrives, so cancel only drops
// the session.

func (b *Bot) startRegistration(ctx context.Context, ch, phone string) error {
	if phone != "" {
		return b.advance(ctx, ch, session.Registration{Step: session.StepAskName, Phone: phone})
	}
	if err := b.sessions.SaveRegistration(ctx, ch, session.Registration{Step: session.StepAskPhone}); err != nil {
		return err
	}
	b.sendOneTime(ctx, ch, msgAskPhone, [][]chat.Button{
		{{Text: chat.LabelShare, RequestContact: true}},
		chat.Row(chat.LabelCancel),
	})
	return nil
}

func (b *Bot) wizard(ctx context.Context, ev chat.Event, reg session.Registration) error {
	ch := ev.ChannelID

	if ev.Kind == chat.KindCommand {
		switch ev.Command {
		case chat.CmdCancel:
			if err := b.sessions.ClearRegistration(ctx, ch); err != nil {
				return err
			}
			b.reply(ctx, ch, msgCanceled, chat.MainMenu())
			return nil
		case chat.CmdRegister:
			return b.startRegistration(ctx, ch, "")
		}
		b.prompt(ctx, ch, reg.Step)
		return nil
	}

	switch reg.Step {
	case session.StepIdle:
		// A shared contact outside the wizard starts it with the phone filled in.
		return b.startRegistration(ctx, ch, ev.Phone)

	case session.StepAskPhone:
		phone := ev.Phone
		if ev.Kind != chat.KindContact {
			if !ev.FreeText() {
				b.prompt(ctx, ch, reg.Step)
				return nil
			}
			phone = ev.Text
		}
		if models.NormalizePhone(phone) == "" {
			b.reply(ctx, ch, msgBadPhone, nil)
			return nil
		}
		reg.Phone = phone
		reg.Step = session.StepAskName

	case session.StepAskName, session.StepAskBrand, session.StepAskPlate:
		if !ev.FreeText() {
			b.prompt(ctx, ch, reg.Step)
			return nil
		}
		switch reg.Step {
		case session.StepAskName:
			reg.Name, reg.Step = ev.Text, session.StepAskBrand
		case session.StepAskBrand:
			reg.CarBrand, reg.Step = ev.Text, session.StepAskPlate
		default:
			reg.CarPlate, reg.Step = ev.Text, session.StepAskPhoto
		}

	case session.StepAskPhoto:
		if ev.Kind != chat.KindImage || ev.ImageRef == "" {
			b.reply(ctx, ch, msgPhotoOnly, nil)
			return nil
		}
		return b.complete(ctx, ch, reg, ev.ImageRef)

	default:
		b.logger.Warn("unknown wizard step, resetting", "channel_id", ch, "step", reg.Step)
		if err := b.sessions.ClearRegistration(ctx, ch); err != nil {
			return err
		}
		b.reply(ctx, ch, msgWizardReset, chat.MainMenu())
		return nil
	}
	return b.advance(ctx, ch, reg)
}

func (b *Bot) advance(ctx context.Context, ch string, reg session.Registration) error {
	if err := b.sessions.SaveRegistration(ctx, ch, reg); err != nil {
		return err
	}
	b.prompt(ctx, ch, reg.Step)
	return nil
}

func (b *Bot) prompt(ctx context.Context, ch string, step session.Step) {
	switch step {
	case session.StepAskPhone:
		b.sendOneTime(ctx, ch, msgAskPhone, [][]chat.Button{
			{{Text: chat.LabelShare, RequestContact: true}},
			chat.Row(chat.LabelCancel),
		})
	case session.StepAskName:
		b.reply(ctx, ch, msgAskName, [][]chat.Button{chat.Row(chat.LabelCancel)})
	case session.StepAskBrand:
		b.reply(ctx, ch, msgAskBrand, [][]chat.Button{chat.Row(chat.LabelCancel)})
	case session.StepAskPlate:
		b.reply(ctx, ch, msgAskPlate, [][]chat.Button{chat.Row(chat.LabelCancel)})
	case session.StepAskPhoto:
		b.reply(ctx, ch, msgAskPhoto, [][]chat.Button{chat.Row(chat.LabelCancel)})
	}
}

// complete resolves the photo and writes the driver record. Storage failures
// keep the session at the photo step so the driver can resend.
func (b *Bot) complete(ctx context.Context, ch string, reg session.Registration, imageRef string) error {
	if models.NormalizePhone(reg.Phone) == "" {
		b.logger.Error("registration without usable phone", "channel_id", ch)
		if err := b.sessions.ClearRegistration(ctx, ch); err != nil {
			return err
		}
		b.reply(ctx, ch, msgPhoneLost, chat.MainMenu())
		return nil
	}

	url, err := b.media.ResolveImage(ctx, ch, imageRef)
	if err != nil {
		b.logger.Error("resolve photo", "channel_id", ch, "error", err)
		b.reply(ctx, ch, msgSaveFailed, nil)
		return nil
	}

	offline := models.DriverOffline
	d, err := b.drivers.Upsert(ctx, reg.Phone, models.DriverPatch{
		Phone:     &reg.Phone,
		Name:      &reg.Name,
		CarBrand:  &reg.CarBrand,
		CarPlate:  &reg.CarPlate,
		PhotoRef:  &imageRef,
		PhotoURL:  &url,
		ChannelID: &ch,
		Status:    &offline,
	})
	if errors.Is(err, models.ErrInvalidIdentifier) {
		if err := b.sessions.ClearRegistration(ctx, ch); err != nil {
			return err
		}
		b.reply(ctx, ch, msgPhoneLost, chat.MainMenu())
		return nil
	}
	if err != nil {
		b.logger.Error("save driver", "channel_id", ch, "error", err)
		b.reply(ctx, ch, msgSaveFailed, nil)
		return nil
	}

	if err := b.sessions.ClearRegistration(ctx, ch); err != nil {
		return err
	}
	observability.DriversRegistered.Inc()
	b.logger.Info("driver registered", "channel_id", ch, "driver_id", d.ID)
	b.reply(ctx, ch, msgRegistered, chat.MainMenu())
	return nil
}
