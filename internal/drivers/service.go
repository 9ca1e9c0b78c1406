// Package drivers applies registration and availability changes to driver
// records while keeping status busy exactly when an order is held.
package drivers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/storage"
)

type Service struct {
	store  storage.DriverStore
	events ingest.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store storage.DriverStore, events ingest.Publisher, logger *slog.Logger) *Service {
	if events == nil {
		events = ingest.NopPublisher{}
	}
	return &Service{store: store, events: events, logger: logger.With("component", "drivers"), now: time.Now}
}

// Upsert merges patch into the record keyed by the normalized phone, creating
// it when absent. A status in the patch is ignored while the driver holds an
// order; busy can only be entered through SetStatus with an order id.
func (s *Service) Upsert(ctx context.Context, phone string, patch models.DriverPatch) (*models.Driver, error) {
	id := models.NormalizePhone(phone)
	if id == "" {
		return nil, models.ErrInvalidIdentifier
	}
	if patch.Status != nil && (!patch.Status.Valid() || *patch.Status == models.DriverBusy) {
		return nil, models.ErrInvalidStatus
	}

	now := s.now().UTC()
	d, err := s.store.GetDriver(ctx, id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		d = &models.Driver{ID: id, Status: models.DriverOffline, CreatedAt: now}
	case err != nil:
		return nil, err
	}

	mergePatch(d, patch)
	if patch.Status != nil {
		if d.Busy() {
			s.logger.Info("status patch ignored while busy", "driver_id", id, "order_id", *d.CurrentOrderID)
		} else {
			applyStatus(d, *patch.Status, "", now)
		}
	}
	d.UpdatedAt = now

	var previous *models.Driver
	if d.ChannelID != "" {
		prev, err := s.store.FindDriverByChannel(ctx, d.ChannelID)
		switch {
		case err == nil && prev.ID != id:
			previous = prev
		case err != nil && !errors.Is(err, models.ErrNotFound):
			return nil, err
		}
	}

	if err := s.store.SaveDriver(ctx, d); err != nil {
		return nil, err
	}
	if previous != nil {
		s.detachChannel(ctx, previous, now)
	}
	s.logger.Info("driver upserted", "driver_id", id, "channel_id", d.ChannelID, "status", d.Status)
	return d, nil
}

// detachChannel drops the channel from a record the channel re-registered
// away from. A driver still holding an order keeps it until the trip ends.
func (s *Service) detachChannel(ctx context.Context, d *models.Driver, now time.Time) {
	if d.Busy() {
		s.logger.Warn("channel shared with busy driver", "driver_id", d.ID, "channel_id", d.ChannelID)
		return
	}
	ch := d.ChannelID
	d.ChannelID = ""
	d.UpdatedAt = now
	if err := s.store.SaveDriver(ctx, d); err != nil {
		s.logger.Error("detach channel failed", "driver_id", d.ID, "channel_id", ch, "error", err)
		return
	}
	s.logger.Info("channel moved to another driver", "driver_id", d.ID, "channel_id", ch)
}

// LookupByChannel returns models.ErrDriverNotFound when no driver registered
// from that channel. Callers treat that as "please register first".
func (s *Service) LookupByChannel(ctx context.Context, channelID string) (*models.Driver, error) {
	return s.store.FindDriverByChannel(ctx, channelID)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Driver, error) {
	return s.store.GetDriver(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]models.Driver, error) {
	return s.store.ListDrivers(ctx)
}

// SetStatus re-reads the driver and writes the transition. Going busy requires
// orderID; leaving busy clears the order reference.
func (s *Service) SetStatus(ctx context.Context, driverID string, status models.DriverStatus, orderID string) (*models.Driver, error) {
	if !status.Valid() {
		return nil, models.ErrInvalidStatus
	}
	if status == models.DriverBusy && orderID == "" {
		return nil, models.MissingField("orderId")
	}
	d, err := s.store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, d, status, orderID)
}

// GoOnline marks the channel's driver available. A driver holding an order
// must finish it first.
func (s *Service) GoOnline(ctx context.Context, channelID string) (*models.Driver, error) {
	return s.toggle(ctx, channelID, models.DriverOnline)
}

// GoOffline ends the driver's session.
func (s *Service) GoOffline(ctx context.Context, channelID string) (*models.Driver, error) {
	return s.toggle(ctx, channelID, models.DriverOffline)
}

func (s *Service) toggle(ctx context.Context, channelID string, status models.DriverStatus) (*models.Driver, error) {
	d, err := s.store.FindDriverByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if d.Busy() {
		return d, models.ErrDriverBusy
	}
	return s.write(ctx, d, status, "")
}

func (s *Service) write(ctx context.Context, d *models.Driver, status models.DriverStatus, orderID string) (*models.Driver, error) {
	from := d.Status
	now := s.now().UTC()
	applyStatus(d, status, orderID, now)
	d.UpdatedAt = now
	if err := s.store.SaveDriver(ctx, d); err != nil {
		return nil, err
	}
	observability.DriverTransitions.WithLabelValues(string(status)).Inc()
	s.logger.Info("driver status", "driver_id", d.ID, "from", from, "to", status, "order_id", orderID)

	ev := ingest.NewEvent(models.EventDriverStatus, now)
	ev.DriverID, ev.Status, ev.OrderID = d.ID, string(status), orderID
	ingest.Emit(ctx, s.events, s.logger, ev)
	return d, nil
}

func applyStatus(d *models.Driver, status models.DriverStatus, orderID string, now time.Time) {
	d.Status = status
	switch status {
	case models.DriverBusy:
		id := orderID
		d.CurrentOrderID = &id
	case models.DriverOnline:
		d.CurrentOrderID = nil
		if d.OnlineSince == nil {
			t := now
			d.OnlineSince = &t
		}
	case models.DriverOffline:
		d.CurrentOrderID = nil
		d.OnlineSince = nil
	}
}

func mergePatch(d *models.Driver, p models.DriverPatch) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&d.Phone, p.Phone)
	set(&d.Name, p.Name)
	set(&d.CarBrand, p.CarBrand)
	set(&d.CarPlate, p.CarPlate)
	set(&d.PhotoRef, p.PhotoRef)
	set(&d.PhotoURL, p.PhotoURL)
	set(&d.ChannelID, p.ChannelID)
}
