package orders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/chat"
	"github.com/example/taxi-dispatch/internal/drivers"
	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/ratings"
	"github.com/example/taxi-dispatch/internal/session"
	"github.com/example/taxi-dispatch/internal/storage"
)

type fakeMessenger struct {
	fail int // number of sends to fail before succeeding
	sent []chat.Message
}

func (f *fakeMessenger) Send(_ context.Context, msg chat.Message) error {
	if f.fail > 0 {
		f.fail--
		return errors.New("telegram down")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fixture struct {
	svc      *Service
	store    *storage.MemoryStore
	sessions *session.MemoryStore
	msgr     *fakeMessenger
}

func newFixture(t *testing.T, compensate bool) *fixture {
	t.Helper()
	log := logging.Discard()
	store := storage.NewMemoryStore()
	sessions := session.NewMemoryStore(0)
	msgr := &fakeMessenger{}
	drv := drivers.NewService(store, nil, log)
	rat := ratings.NewService(store, nil, log)
	svc := NewService(store, drv, rat, sessions, msgr, nil, Options{Compensate: compensate}, log)
	svc.now = func() time.Time { return time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC) }

	ctx := context.Background()
	_ = store.SaveDriver(ctx, &models.Driver{ID: "380501112233", Phone: "+380501112233", ChannelID: "42", Status: models.DriverOnline})
	_ = store.SaveDriver(ctx, &models.Driver{ID: "380509999999", Status: models.DriverOnline})
	return &fixture{svc: svc, store: store, sessions: sessions, msgr: msgr}
}

func request() CreateRequest {
	return CreateRequest{
		OrderID:        "1714847400000_ab12cd",
		DriverID:       "380501112233",
		PassengerPhone: "+380670000001",
		PassengerName:  "Olena",
		Address:        "Central square 1",
		Kind:           models.OrderImmediate,
	}
}

func TestCreateAssignsAndNotifies(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	order, err := f.svc.Create(ctx, request())
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != models.OrderAccepted {
		t.Fatalf("order status = %s", order.Status)
	}
	d, _ := f.store.GetDriver(ctx, "380501112233")
	if d.Status != models.DriverBusy || !d.Busy() || *d.CurrentOrderID != order.ID {
		t.Fatalf("driver not busy with order: %+v", d)
	}
	if len(f.msgr.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.msgr.sent))
	}
	msg := f.msgr.sent[0]
	if msg.ChannelID != "42" || !strings.Contains(msg.Text, "Central square 1") || msg.Keyboard[0][0].Text != chat.LabelFinish {
		t.Fatalf("unexpected notification %+v", msg)
	}
}

func TestCreateWithoutChannelDoesNotMutate(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	req := request()
	req.DriverID = "380509999999"
	if _, err := f.svc.Create(ctx, req); !errors.Is(err, models.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
	d, _ := f.store.GetDriver(ctx, req.DriverID)
	if d.Status != models.DriverOnline || d.Busy() {
		t.Fatalf("driver mutated: %+v", d)
	}
	if _, err := f.store.GetOrder(ctx, req.OrderID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("order must not be written, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, true)
	req := request()
	req.Address = "  "
	if _, err := f.svc.Create(context.Background(), req); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	req = request()
	req.PassengerPhone = "n/a"
	if _, err := f.svc.Create(context.Background(), req); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("phone without digits: expected validation error, got %v", err)
	}
	if d, _ := f.store.GetDriver(context.Background(), "380501112233"); d.Busy() {
		t.Fatalf("rejected order assigned the driver: %+v", d)
	}
	req = request()
	req.DriverID = "000"
	if _, err := f.svc.Create(context.Background(), req); !errors.Is(err, models.ErrDriverNotFound) {
		t.Fatalf("expected ErrDriverNotFound, got %v", err)
	}
}

func TestCreateNotifyFailureCompensates(t *testing.T) {
	f := newFixture(t, true)
	f.msgr.fail = 1
	ctx := context.Background()
	_, err := f.svc.Create(ctx, request())
	if !errors.Is(err, models.ErrDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	d, _ := f.store.GetDriver(ctx, "380501112233")
	if d.Status != models.DriverOnline || d.Busy() {
		t.Fatalf("driver should be released: %+v", d)
	}
	o, _ := f.store.GetOrder(ctx, request().OrderID)
	if o.Status != models.OrderPending || o.DriverID != "" {
		t.Fatalf("order should be back to pending without a driver: %+v", o)
	}

	order, err := f.svc.Create(ctx, request())
	if err != nil {
		t.Fatalf("same token should be accepted again: %v", err)
	}
	if order.Status != models.OrderAccepted || order.DriverID != "380501112233" {
		t.Fatalf("retry: %+v", order)
	}
}

func TestCreateNotifyFailureWithoutCompensationIsRetryable(t *testing.T) {
	f := newFixture(t, false)
	f.msgr.fail = 1
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, request()); !errors.Is(err, models.ErrDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	d, _ := f.store.GetDriver(ctx, "380501112233")
	if !d.Busy() {
		t.Fatal("assignment should be left in place")
	}
	order, err := f.svc.Create(ctx, request())
	if err != nil {
		t.Fatalf("retry should re-notify: %v", err)
	}
	if order.Status != models.OrderAccepted || len(f.msgr.sent) != 1 {
		t.Fatalf("retry: status=%s notifications=%d", order.Status, len(f.msgr.sent))
	}
}

func TestCreateBusyDriverConflict(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, request()); err != nil {
		t.Fatal(err)
	}
	other := request()
	other.OrderID = "other"
	if _, err := f.svc.Create(ctx, other); !errors.Is(err, models.ErrDriverBusy) {
		t.Fatalf("expected ErrDriverBusy, got %v", err)
	}
}

func TestFinishWithoutOrderReturnsOnline(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.svc.drivers.GoOffline(ctx, "42")
	res, err := f.svc.Finish(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if res.Order != nil || res.Driver.Status != models.DriverOnline {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok, _ := f.sessions.PendingRating(ctx, "42"); ok {
		t.Fatal("no rating prompt without an order")
	}
}

func TestFinishMissingOrderReleasesDriver(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.svc.drivers.SetStatus(ctx, "380501112233", models.DriverBusy, "vanished")
	res, err := f.svc.Finish(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Missing || res.Driver.Busy() {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFinishUnregisteredChannel(t *testing.T) {
	f := newFixture(t, true)
	if _, err := f.svc.Finish(context.Background(), "nobody"); !errors.Is(err, models.ErrDriverNotFound) {
		t.Fatalf("expected ErrDriverNotFound, got %v", err)
	}
}

func TestFinishThenRatePassenger(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	order, _ := f.svc.Create(ctx, request())

	res, err := f.svc.Finish(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if res.Order.Status != models.OrderFinished || res.Order.FinishedAt == nil {
		t.Fatalf("order not finished: %+v", res.Order)
	}
	if res.Driver.Status != models.DriverOnline || res.Driver.Busy() {
		t.Fatalf("driver not released: %+v", res.Driver)
	}
	pending, ok, _ := f.sessions.PendingRating(ctx, "42")
	if !ok || pending.OrderID != order.ID || pending.PassengerPhone != "+380670000001" {
		t.Fatalf("rating prompt not opened: %+v ok=%v", pending, ok)
	}

	if _, err := f.svc.RatePassenger(ctx, "42", 7); !errors.Is(err, models.ErrInvalidRating) {
		t.Fatalf("expected ErrInvalidRating, got %v", err)
	}
	if _, ok, _ := f.sessions.PendingRating(ctx, "42"); !ok {
		t.Fatal("invalid score must keep the prompt open")
	}

	agg, err := f.svc.RatePassenger(ctx, "42", 4)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Count != 1 || agg.Avg != 4 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
	rs, _ := f.store.ListRatings(ctx, models.Subject{Kind: models.SubjectPassenger, ID: "380670000001"})
	if len(rs) != 1 || rs[0].OrderID != order.ID || rs[0].Counterpart != "380501112233" {
		t.Fatalf("unexpected ratings %+v", rs)
	}
	if _, ok, _ := f.sessions.PendingRating(ctx, "42"); ok {
		t.Fatal("prompt should be closed after a valid score")
	}
	if _, err := f.svc.RatePassenger(ctx, "42", 5); !errors.Is(err, models.ErrNoPendingRating) {
		t.Fatalf("expected ErrNoPendingRating, got %v", err)
	}
}

func TestRatePassengerDropsUnratablePrompt(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	// Left over from before phones were checked at order creation.
	if err := f.sessions.OpenRating(ctx, "42", session.PendingRating{OrderID: "old-order", PassengerPhone: "n/a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RatePassenger(ctx, "42", 5); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok, _ := f.sessions.PendingRating(ctx, "42"); ok {
		t.Fatal("unratable prompt must be closed")
	}
	if _, err := f.svc.RatePassenger(ctx, "42", 5); !errors.Is(err, models.ErrNoPendingRating) {
		t.Fatalf("expected ErrNoPendingRating, got %v", err)
	}
}

func TestFinishedOrderIsSettled(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.svc.Create(ctx, request())
	_, _ = f.svc.Finish(ctx, "42")
	if _, err := f.svc.Create(ctx, request()); !errors.Is(err, models.ErrOrderSettled) {
		t.Fatalf("expected ErrOrderSettled, got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]models.OrderKind{"": models.OrderImmediate, "order": models.OrderImmediate, "booking": models.OrderScheduled, "Scheduled": models.OrderScheduled} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseKind("taxi"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewTokenIsTimeOrdered(t *testing.T) {
	a := NewToken()
	time.Sleep(2 * time.Millisecond)
	b := NewToken()
	if a == b || a > b {
		t.Fatalf("tokens not ordered: %s then %s", a, b)
	}
}
