// Package ratings stores one score per (subject, order) and recomputes each
// subject's average from the full set of its ratings.
//
// Recompute is a rescan, O(ratings of the subject). A resubmitted score
// replaces the old one, so an incrementally maintained mean would drift; at
// larger scale keep a sum/count pair and subtract the replaced score instead.
package ratings

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/storage"
)

const (
	MinScore = 1
	MaxScore = 5
)

// Store is the slice of the system of record the aggregator touches.
type Store interface {
	storage.RatingStore
	storage.DriverStore
}

type Service struct {
	store  Store
	events ingest.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, events ingest.Publisher, logger *slog.Logger) *Service {
	if events == nil {
		events = ingest.NopPublisher{}
	}
	return &Service{store: store, events: events, logger: logger.With("component", "ratings"), now: time.Now}
}

// ValidScore reports whether score is within the accepted range.
func ValidScore(score int) bool { return score >= MinScore && score <= MaxScore }

// Record upserts the rating for (subject, orderID).
func (s *Service) Record(ctx context.Context, subject models.Subject, orderID string, score int, counterpart string) error {
	if !ValidScore(score) {
		return models.ErrInvalidRating
	}
	subject.ID = models.NormalizePhone(subject.ID)
	if subject.ID == "" {
		return models.ErrInvalidIdentifier
	}
	if orderID == "" {
		return models.MissingField("orderId")
	}
	now := s.now().UTC()
	r := &models.Rating{
		Subject:     subject,
		OrderID:     orderID,
		Score:       score,
		Counterpart: counterpart,
		CreatedAt:   now,
	}
	if err := s.store.PutRating(ctx, r); err != nil {
		return err
	}
	observability.RatingsRecorded.WithLabelValues(string(subject.Kind)).Inc()

	ev := ingest.NewEvent(models.EventRatingRecorded, now)
	ev.OrderID, ev.Score, ev.Status = orderID, score, string(subject.Kind)
	if subject.Kind == models.SubjectDriver {
		ev.DriverID = subject.ID
	}
	ingest.Emit(ctx, s.events, s.logger, ev)
	return nil
}

// Recompute averages every rating of the subject. For drivers the result is
// written onto the driver record.
func (s *Service) Recompute(ctx context.Context, subject models.Subject) (models.Aggregate, error) {
	subject.ID = models.NormalizePhone(subject.ID)
	rs, err := s.store.ListRatings(ctx, subject)
	if err != nil {
		return models.Aggregate{}, err
	}
	agg := models.Aggregate{Subject: subject, Count: len(rs)}
	if len(rs) > 0 {
		sum := 0
		for _, r := range rs {
			sum += r.Score
		}
		agg.Avg = float64(sum) / float64(len(rs))
	}
	if subject.Kind != models.SubjectDriver {
		return agg, nil
	}

	if err := s.store.SetDriverRating(ctx, subject.ID, agg.Avg, agg.Count, s.now().UTC()); err != nil {
		return agg, err
	}
	s.logger.Info("driver rating recomputed", "driver_id", subject.ID, "avg", agg.Avg, "count", agg.Count)
	return agg, nil
}

// RateDriver records a passenger's score for a driver and returns the fresh
// aggregate. The driver must exist.
func (s *Service) RateDriver(ctx context.Context, driverID, orderID string, score int, passengerPhone string) (models.Aggregate, error) {
	if !ValidScore(score) {
		return models.Aggregate{}, models.ErrInvalidRating
	}
	if _, err := s.store.GetDriver(ctx, driverID); err != nil {
		return models.Aggregate{}, err
	}
	subject := models.Subject{Kind: models.SubjectDriver, ID: driverID}
	if err := s.Record(ctx, subject, orderID, score, models.NormalizePhone(passengerPhone)); err != nil {
		return models.Aggregate{}, err
	}
	return s.Recompute(ctx, subject)
}
