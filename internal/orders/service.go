// Package orders coordinates an order from assignment to completion.
//
// Assignment touches two documents and a transport: the driver goes busy, the
// order is written pending then accepted, and the driver is notified. There is
// no transaction across those steps. When notification fails the coordinator
// either compensates (order canceled, driver back online) or, with
// compensation disabled, leaves the assignment in place so a retry of the same
// order re-sends the notification.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/chat"
	"github.com/example/taxi-dispatch/internal/drivers"
	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/ratings"
	"github.com/example/taxi-dispatch/internal/session"
	"github.com/example/taxi-dispatch/internal/storage"
)

// CreateRequest is what the passenger boundary submits.
type CreateRequest struct {
	OrderID        string
	DriverID       string
	PassengerPhone string
	PassengerName  string
	Address        string
	Comment        string
	Kind           models.OrderKind
}

// FinishResult tells the conversational side what happened.
type FinishResult struct {
	Driver *models.Driver
	// Order is nil when the driver held no order or it no longer exists.
	Order *models.Order
	// Missing is set when the driver referenced an order that is gone.
	Missing bool
}

type Options struct {
	Compensate bool
}

type Service struct {
	orders    storage.OrderStore
	drivers   *drivers.Service
	ratings   *ratings.Service
	sessions  session.Store
	messenger chat.Messenger
	events    ingest.Publisher
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(orders storage.OrderStore, drv *drivers.Service, rat *ratings.Service, sessions session.Store,
	messenger chat.Messenger, events ingest.Publisher, opts Options, logger *slog.Logger) *Service {
	if events == nil {
		events = ingest.NopPublisher{}
	}
	return &Service{
		orders:    orders,
		drivers:   drv,
		ratings:   rat,
		sessions:  sessions,
		messenger: messenger,
		events:    events,
		opts:      opts,
		logger:    logger.With("component", "orders"),
		now:       time.Now,
	}
}

// NewToken returns a fresh time-ordered order token.
func NewToken() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ParseKind maps the passenger client's order type.
func ParseKind(s string) (models.OrderKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "order", "immediate":
		return models.OrderImmediate, nil
	case "booking", "scheduled":
		return models.OrderScheduled, nil
	}
	return "", fmt.Errorf("%w: unknown order type %q", models.ErrValidation, s)
}

// Create assigns the order to the driver and notifies them.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Order, error) {
	start := s.now()
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Kind == "" {
		req.Kind = models.OrderImmediate
	}

	driver, err := s.drivers.Get(ctx, req.DriverID)
	if err != nil {
		return nil, err
	}
	if driver.ChannelID == "" {
		return nil, models.ErrNoChannel
	}

	existing, err := s.orders.GetOrder(ctx, req.OrderID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, err
	case existing.Status.Settled():
		return nil, models.ErrOrderSettled
	case existing.DriverID != "" && existing.DriverID != driver.ID:
		return nil, fmt.Errorf("%w: order %s belongs to another driver", models.ErrConflict, existing.ID)
	}

	if driver.Busy() {
		if *driver.CurrentOrderID != req.OrderID || existing == nil {
			return nil, models.ErrDriverBusy
		}
		// Same order again: the assignment stands, only the notification is retried.
		s.logger.Info("renotifying assigned order", "order_id", req.OrderID, "driver_id", driver.ID)
		if err := s.notify(ctx, driver, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	prevStatus := driver.Status
	if driver, err = s.drivers.SetStatus(ctx, driver.ID, models.DriverBusy, req.OrderID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:             req.OrderID,
		Status:         models.OrderPending,
		Kind:           req.Kind,
		DriverID:       driver.ID,
		PassengerPhone: req.PassengerPhone,
		PassengerName:  req.PassengerName,
		Address:        req.Address,
		Comment:        req.Comment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if existing != nil {
		order.CreatedAt = existing.CreatedAt
	}
	if err := s.orders.SaveOrder(ctx, order); err != nil {
		s.release(ctx, driver.ID, prevStatus)
		return nil, err
	}
	order.Status = models.OrderAccepted
	order.UpdatedAt = s.now().UTC()
	if err := s.orders.SaveOrder(ctx, order); err != nil {
		s.release(ctx, driver.ID, prevStatus)
		return nil, err
	}

	if err := s.notify(ctx, driver, order); err != nil {
		if !s.opts.Compensate {
			observability.NotifyFailures.WithLabelValues("left_assigned").Inc()
			s.logger.Error("driver not notified, order left assigned", "order_id", order.ID, "driver_id", driver.ID, "error", err)
			return nil, err
		}
		observability.NotifyFailures.WithLabelValues("compensated").Inc()
		s.compensate(ctx, order, driver.ID, prevStatus)
		return nil, err
	}

	observability.OrdersCreated.WithLabelValues(string(order.Kind)).Inc()
	observability.DispatchLatency.Observe(s.now().Sub(start).Seconds())
	s.logger.Info("order accepted", "order_id", order.ID, "driver_id", driver.ID, "kind", order.Kind,
		"passenger", models.MaskPhone(order.PassengerPhone))

	ev := ingest.NewEvent(models.EventOrderAccepted, order.UpdatedAt)
	ev.OrderID, ev.DriverID, ev.Status = order.ID, driver.ID, string(order.Status)
	ingest.Emit(ctx, s.events, s.logger, ev)
	return order, nil
}

// Finish completes the order the channel's driver currently holds. The order
// id always comes from the driver record.
func (s *Service) Finish(ctx context.Context, channelID string) (FinishResult, error) {
	driver, err := s.drivers.LookupByChannel(ctx, channelID)
	if err != nil {
		return FinishResult{}, err
	}
	if !driver.Busy() {
		driver, err = s.drivers.SetStatus(ctx, driver.ID, models.DriverOnline, "")
		return FinishResult{Driver: driver}, err
	}

	orderID := *driver.CurrentOrderID
	order, err := s.orders.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Warn("driver held a missing order", "order_id", orderID, "driver_id", driver.ID)
		driver, err = s.drivers.SetStatus(ctx, driver.ID, models.DriverOnline, "")
		return FinishResult{Driver: driver, Missing: true}, err
	}
	if err != nil {
		return FinishResult{}, err
	}

	now := s.now().UTC()
	if !order.Status.Settled() {
		order.Status = models.OrderFinished
		order.FinishedAt = &now
		order.UpdatedAt = now
		if err := s.orders.SaveOrder(ctx, order); err != nil {
			return FinishResult{}, err
		}
		observability.OrdersFinished.Inc()
	}

	if driver, err = s.drivers.SetStatus(ctx, driver.ID, models.DriverOnline, ""); err != nil {
		return FinishResult{}, err
	}

	if order.Status == models.OrderFinished {
		err = s.sessions.OpenRating(ctx, channelID, session.PendingRating{
			OrderID:        order.ID,
			PassengerPhone: order.PassengerPhone,
			OpenedAt:       now,
		})
		if err != nil {
			return FinishResult{Driver: driver, Order: order}, err
		}
	}
	s.logger.Info("order finished", "order_id", order.ID, "driver_id", driver.ID)

	ev := ingest.NewEvent(models.EventOrderFinished, now)
	ev.OrderID, ev.DriverID, ev.Status = order.ID, driver.ID, string(order.Status)
	ingest.Emit(ctx, s.events, s.logger, ev)
	return FinishResult{Driver: driver, Order: order}, nil
}

// RatePassenger consumes the channel's open rating prompt. An invalid score
// or a failed write leaves the prompt open. A prompt whose order data cannot
// be rated at all is closed and the validation error returned.
func (s *Service) RatePassenger(ctx context.Context, channelID string, score int) (models.Aggregate, error) {
	pending, ok, err := s.sessions.PendingRating(ctx, channelID)
	if err != nil {
		return models.Aggregate{}, err
	}
	if !ok {
		return models.Aggregate{}, models.ErrNoPendingRating
	}
	if !ratings.ValidScore(score) {
		return models.Aggregate{}, models.ErrInvalidRating
	}

	counterpart := ""
	if d, err := s.drivers.LookupByChannel(ctx, channelID); err == nil {
		counterpart = d.ID
	}
	subject := models.Subject{Kind: models.SubjectPassenger, ID: pending.PassengerPhone}
	if err := s.ratings.Record(ctx, subject, pending.OrderID, score, counterpart); err != nil {
		if errors.Is(err, models.ErrValidation) {
			s.logger.Warn("unratable prompt dropped", "order_id", pending.OrderID, "channel_id", channelID, "error", err)
			if cerr := s.sessions.ClearRating(ctx, channelID); cerr != nil {
				return models.Aggregate{}, cerr
			}
		}
		return models.Aggregate{}, err
	}
	if err := s.sessions.ClearRating(ctx, channelID); err != nil {
		return models.Aggregate{}, err
	}
	agg, err := s.ratings.Recompute(ctx, subject)
	if err != nil {
		s.logger.Warn("passenger aggregate failed", "order_id", pending.OrderID, "error", err)
	}
	return agg, nil
}

func (s *Service) notify(ctx context.Context, driver *models.Driver, order *models.Order) error {
	err := s.messenger.Send(ctx, chat.Message{
		ChannelID: driver.ChannelID,
		Text:      assignmentText(order),
		Keyboard:  [][]chat.Button{chat.Row(chat.LabelFinish)},
	})
	return models.Dependency("notify driver", err)
}

// compensate undoes an assignment whose notification failed. The order goes
// back to pending without a driver so the same token can be posted again.
func (s *Service) compensate(ctx context.Context, order *models.Order, driverID string, prev models.DriverStatus) {
	now := s.now().UTC()
	order.Status = models.OrderPending
	order.DriverID = ""
	order.UpdatedAt = now
	if err := s.orders.SaveOrder(ctx, order); err != nil {
		s.logger.Error("compensation: unassign order failed", "order_id", order.ID, "error", err)
	}
	s.release(ctx, driverID, prev)
	s.logger.Warn("assignment compensated after notify failure", "order_id", order.ID, "driver_id", driverID)

	ev := ingest.NewEvent(models.EventOrderReleased, now)
	ev.OrderID, ev.DriverID, ev.Status = order.ID, driverID, string(order.Status)
	ingest.Emit(ctx, s.events, s.logger, ev)
}

// release returns a driver to the status held before assignment.
func (s *Service) release(ctx context.Context, driverID string, prev models.DriverStatus) {
	if prev == models.DriverBusy || prev == "" {
		prev = models.DriverOnline
	}
	if _, err := s.drivers.SetStatus(ctx, driverID, prev, ""); err != nil {
		s.logger.Error("release driver failed", "driver_id", driverID, "error", err)
	}
}

func (r CreateRequest) validate() error {
	fields := []struct{ name, value string }{
		{"orderId", r.OrderID},
		{"driverId", r.DriverID},
		{"address", r.Address},
		{"passengerPhone", r.PassengerPhone},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return models.MissingField(f.name)
		}
	}
	if models.NormalizePhone(r.PassengerPhone) == "" {
		return fmt.Errorf("%w: passengerPhone has no digits", models.ErrValidation)
	}
	return nil
}

func assignmentText(o *models.Order) string {
	title := "🚕 NEW ORDER"
	if o.Kind == models.OrderScheduled {
		title = "🚕 NEW BOOKING"
	}
	return fmt.Sprintf("%s\nPassenger: %s\nPhone: %s\nPickup: %s\nComment: %s",
		title, orDash(o.PassengerName), o.PassengerPhone, o.Address, orDash(o.Comment))
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
