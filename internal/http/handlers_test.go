package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/taxi-dispatch/internal/chat"
	"github.com/example/taxi-dispatch/internal/drivers"
	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/orders"
	"github.com/example/taxi-dispatch/internal/ratings"
	"github.com/example/taxi-dispatch/internal/session"
	"github.com/example/taxi-dispatch/internal/storage"
)

type sink struct {
	fail bool
	sent []chat.Message
}

func (s *sink) Send(_ context.Context, msg chat.Message) error {
	if s.fail {
		return errors.New("channel unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

type pingErr struct{ err error }

func (p pingErr) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore, *sink) {
	t.Helper()
	log := logging.Discard()
	store := storage.NewMemoryStore()
	out := &sink{}
	drv := drivers.NewService(store, nil, log)
	rat := ratings.NewService(store, nil, log)
	ord := orders.NewService(store, drv, rat, session.NewMemoryStore(0), out, nil, orders.Options{Compensate: true}, log)

	ctx := context.Background()
	_ = store.SaveDriver(ctx, &models.Driver{ID: "380501112233", Name: "Jane", ChannelID: "42", Status: models.DriverOnline})
	_ = store.SaveDriver(ctx, &models.Driver{ID: "380509999999", Name: "Nochan", Status: models.DriverOnline})

	srv := NewServer(Deps{Drivers: drv, Orders: ord, Ratings: rat, Store: store}, log)
	return srv, store, out
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrder(t *testing.T) {
	srv, store, out := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/order",
		`{"orderId":"o-1","driverId":"380501112233","passengerPhone":"+380670000001","passengerName":"Olena","address":"Central square 1","type":"booking"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["ok"] != true {
		t.Fatalf("body = %s", rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	o, err := store.GetOrder(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != models.OrderAccepted || o.Kind != models.OrderScheduled {
		t.Fatalf("order = %+v", o)
	}
	if len(out.sent) != 1 || !strings.Contains(out.sent[0].Text, "NEW BOOKING") {
		t.Fatalf("notification = %+v", out.sent)
	}
}

func TestCreateOrderStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"orderId":`, http.StatusBadRequest},
		{"missing address", `{"orderId":"o-2","driverId":"380501112233","passengerPhone":"1"}`, http.StatusBadRequest},
		{"unknown type", `{"orderId":"o-2","driverId":"380501112233","passengerPhone":"1","address":"a","type":"taxi"}`, http.StatusBadRequest},
		{"unknown driver", `{"orderId":"o-2","driverId":"380000000000","passengerPhone":"1","address":"a"}`, http.StatusNotFound},
		{"driver without channel", `{"orderId":"o-2","driverId":"380509999999","passengerPhone":"1","address":"a"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t)
			if rec := do(t, srv, http.MethodPost, "/api/order", tt.body); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body=%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestCreateOrderMissingFieldNamed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/order", `{"driverId":"380501112233","passengerPhone":"1","address":"a"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "orderId") {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
}

func TestCreateOrderWithoutChannelDoesNotMutate(t *testing.T) {
	srv, store, out := newTestServer(t)
	ctx := context.Background()
	rec := do(t, srv, http.MethodPost, "/api/order",
		`{"orderId":"o-3","driverId":"380509999999","passengerPhone":"+380670000001","address":"a"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	d, _ := store.GetDriver(ctx, "380509999999")
	if d.Status != models.DriverOnline || d.CurrentOrderID != nil {
		t.Fatalf("driver mutated: %+v", d)
	}
	if _, err := store.GetOrder(ctx, "o-3"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("order written: %v", err)
	}
	if len(out.sent) != 0 {
		t.Fatalf("notification sent: %+v", out.sent)
	}
}

func TestCreateOrderConflicts(t *testing.T) {
	srv, _, out := newTestServer(t)
	body := `{"orderId":"o-1","driverId":"380501112233","passengerPhone":"1","address":"a"}`
	if rec := do(t, srv, http.MethodPost, "/api/order", body); rec.Code != http.StatusOK {
		t.Fatalf("first create: %d", rec.Code)
	}
	// Same order again only re-notifies.
	if rec := do(t, srv, http.MethodPost, "/api/order", body); rec.Code != http.StatusOK {
		t.Fatalf("retry: %d", rec.Code)
	}
	if len(out.sent) != 2 {
		t.Fatalf("sent %d notifications", len(out.sent))
	}
	other := `{"orderId":"o-2","driverId":"380501112233","passengerPhone":"1","address":"a"}`
	if rec := do(t, srv, http.MethodPost, "/api/order", other); rec.Code != http.StatusConflict {
		t.Fatalf("busy driver: %d", rec.Code)
	}
}

func TestCreateOrderNotifyFailure(t *testing.T) {
	srv, store, out := newTestServer(t)
	out.fail = true
	rec := do(t, srv, http.MethodPost, "/api/order",
		`{"orderId":"o-4","driverId":"380501112233","passengerPhone":"1","address":"a"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "channel unavailable") {
		t.Fatalf("internal detail leaked: %s", rec.Body)
	}
	d, _ := store.GetDriver(context.Background(), "380501112233")
	if d.Busy() {
		t.Fatalf("driver left busy: %+v", d)
	}
}

func TestRateDriver(t *testing.T) {
	srv, store, _ := newTestServer(t)
	for _, body := range []string{
		`{"orderId":"o-1","rating":5,"passengerPhone":"+380670000001"}`,
		`{"orderId":"o-2","rating":"4","passengerPhone":"+380670000002"}`,
		`{"orderId":"o-1","rating":3,"passengerPhone":"+380670000001"}`,
	} {
		if rec := do(t, srv, http.MethodPost, "/api/driver/380501112233/rate", body); rec.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
		}
	}
	rec := do(t, srv, http.MethodPost, "/api/driver/380501112233/rate", `{"orderId":"o-3","rating":5}`)
	var resp struct {
		OK    bool    `json:"ok"`
		Avg   float64 `json:"avgRating"`
		Count int     `json:"ratingsCount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// o-1 was overwritten with 3: (3+4+5)/3.
	if !resp.OK || resp.Count != 3 || resp.Avg != 4 {
		t.Fatalf("resp = %+v", resp)
	}
	d, _ := store.GetDriver(context.Background(), "380501112233")
	if d.AvgRating != 4 || d.RatingsCount != 3 {
		t.Fatalf("driver aggregate = %v/%d", d.AvgRating, d.RatingsCount)
	}
}

func TestRateDriverAcceptsWholeFloat(t *testing.T) {
	srv, store, _ := newTestServer(t)
	for _, body := range []string{
		`{"orderId":"o-1","rating":5.0}`,
		`{"orderId":"o-2","rating":"3.0"}`,
		`{"orderId":"o-3","rating":4e0}`,
	} {
		if rec := do(t, srv, http.MethodPost, "/api/driver/380501112233/rate", body); rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d body=%s", body, rec.Code, rec.Body)
		}
	}
	d, _ := store.GetDriver(context.Background(), "380501112233")
	if d.AvgRating != 4 || d.RatingsCount != 3 {
		t.Fatalf("driver aggregate = %v/%d", d.AvgRating, d.RatingsCount)
	}
}

func TestRateDriverRejects(t *testing.T) {
	tests := []struct {
		name, path, body string
		want             int
	}{
		{"out of range", "/api/driver/380501112233/rate", `{"orderId":"o-1","rating":7}`, http.StatusBadRequest},
		{"zero", "/api/driver/380501112233/rate", `{"orderId":"o-1","rating":0}`, http.StatusBadRequest},
		{"fraction", "/api/driver/380501112233/rate", `{"orderId":"o-1","rating":4.5}`, http.StatusBadRequest},
		{"fraction as string", "/api/driver/380501112233/rate", `{"orderId":"o-1","rating":"4.5"}`, http.StatusBadRequest},
		{"not a number", "/api/driver/380501112233/rate", `{"orderId":"o-1","rating":"five"}`, http.StatusBadRequest},
		{"missing order", "/api/driver/380501112233/rate", `{"rating":4}`, http.StatusBadRequest},
		{"unknown driver", "/api/driver/380000000000/rate", `{"orderId":"o-1","rating":4}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t)
			if rec := do(t, srv, http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body=%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestListDriversAndHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/drivers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []models.Driver
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 2 {
		t.Fatalf("list = %+v, %v", list, err)
	}
	if strings.Contains(rec.Body.String(), `"42"`) {
		t.Fatalf("channel id exposed: %s", rec.Body)
	}

	if rec := do(t, srv, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}

	srv.deps.Store = pingErr{err: errors.New("down")}
	if rec := do(t, srv, http.MethodGet, "/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with store down = %d", rec.Code)
	}
}

func TestCreateOrderRejectsPhoneWithoutDigits(t *testing.T) {
	srv, store, out := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/order",
		`{"orderId":"o-1","driverId":"380501112233","passengerPhone":"n/a","address":"Central square 1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if len(out.sent) != 0 {
		t.Fatalf("driver notified: %+v", out.sent)
	}
	d, _ := store.GetDriver(context.Background(), "380501112233")
	if d.Busy() {
		t.Fatalf("driver assigned: %+v", d)
	}
}

func TestAccessLogCarriesDriver(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "info")
	store := storage.NewMemoryStore()
	drv := drivers.NewService(store, nil, log)
	rat := ratings.NewService(store, nil, log)
	_ = store.SaveDriver(context.Background(), &models.Driver{ID: "380501112233", ChannelID: "42", Status: models.DriverOnline})
	srv := NewServer(Deps{Drivers: drv, Ratings: rat, Store: store}, log)

	do(t, srv, http.MethodPost, "/api/driver/380501112233/rate", `{"orderId":"o-1","rating":5}`)
	do(t, srv, http.MethodPost, "/api/driver/380000000000/rate", `{"orderId":"o-1","rating":5}`)

	var lines []map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil {
			t.Fatalf("log line %q: %v", raw, err)
		}
		if entry["msg"] == "http_request" {
			lines = append(lines, entry)
		}
	}
	if len(lines) != 2 {
		t.Fatalf("access lines = %d: %s", len(lines), buf.String())
	}
	if lines[0]["driver_id"] != "380501112233" || lines[0]["route"] != "/api/driver/{driverId}/rate" {
		t.Fatalf("first line = %+v", lines[0])
	}
	if _, ok := lines[0]["error_kind"]; ok {
		t.Fatalf("successful call logged an error kind: %+v", lines[0])
	}
	if lines[1]["driver_id"] != "380000000000" || lines[1]["error_kind"] != "not_found" || lines[1]["level"] != "WARN" {
		t.Fatalf("second line = %+v", lines[1])
	}
}
