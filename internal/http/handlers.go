package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxi-dispatch/internal/chat"
	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/drivers"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/orders"
	"github.com/example/taxi-dispatch/internal/ratings"
)

// Pinger reports whether the system of record is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the API fronts. WS and Chat may be nil, in which case
// the WebSocket endpoint is not mounted.
type Deps struct {
	Drivers *drivers.Service
	Orders  *orders.Service
	Ratings *ratings.Service
	Store   Pinger
	WS      *dispatch.WSRegistry
	Chat    chat.Handler
}

type Server struct {
	deps     Deps
	validate *validator.Validate
	upgrader websocket.Upgrader
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:     deps,
		validate: validator.New(),
		logger:   logger.With("component", "http"),
		mux:      mux.NewRouter(),
	}
	// Report JSON names in validation errors.
	s.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/order", s.handleCreateOrder).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/driver/{driverId}/rate", s.handleRateDriver).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/drivers", s.handleListDrivers).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.deps.WS != nil && s.deps.Chat != nil {
		s.mux.HandleFunc("/ws/{channel_id}", s.handleWS)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createOrderRequest struct {
	OrderID        string `json:"orderId" validate:"required"`
	DriverID       string `json:"driverId" validate:"required"`
	PassengerPhone string `json:"passengerPhone" validate:"required"`
	PassengerName  string `json:"passengerName"`
	Address        string `json:"address" validate:"required"`
	Comment        string `json:"comment"`
	Type           string `json:"type"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(validationMessage(err)))
		return
	}
	kind, err := orders.ParseKind(req.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	_, err = s.deps.Orders.Create(r.Context(), orders.CreateRequest{
		OrderID:        req.OrderID,
		DriverID:       req.DriverID,
		PassengerPhone: req.PassengerPhone,
		PassengerName:  req.PassengerName,
		Address:        req.Address,
		Comment:        req.Comment,
		Kind:           kind,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type rateDriverRequest struct {
	OrderID        string      `json:"orderId" validate:"required"`
	Rating         json.Number `json:"rating" validate:"required"`
	PassengerPhone string      `json:"passengerPhone"`
}

func (s *Server) handleRateDriver(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driverId"]
	var req rateDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(validationMessage(err)))
		return
	}
	score, ok := wholeScore(req.Rating)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("rating must be an integer from 1 to 5"))
		return
	}

	agg, err := s.deps.Ratings.RateDriver(r.Context(), driverID, req.OrderID, score, req.PassengerPhone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"avgRating":    agg.Avg,
		"ratingsCount": agg.Count,
	})
}

// wholeScore accepts 5 and 5.0 alike and rejects fractions.
func wholeScore(n json.Number) (int, bool) {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || f != math.Trunc(f) || f < 1 || f > 5 {
		return 0, false
	}
	score := int(f)
	return score, ratings.ValidScore(score)
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Drivers.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Driver{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			s.logger.Warn("store not ready", "error", err)
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["channel_id"]
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Warn("ws upgrade failed", "channel_id", id, "error", err)
		return
	}
	s.deps.WS.Serve(r.Context(), dispatch.WSPrefix+id, conn, s.deps.Chat)
}

// writeError maps the error kind onto a status code. Unexpected failures are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if ww, ok := w.(*responseWriter); ok {
		ww.kind = errorKind(status)
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	default:
		return "internal"
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "missing required field: " + verrs[0].Field()
	}
	return err.Error()
}

func errorBody(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
