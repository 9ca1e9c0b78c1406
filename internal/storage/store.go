package storage

import (
	"context"
	"sort"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

// DriverStore persists driver records keyed by normalized phone.
type DriverStore interface {
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	FindDriverByChannel(ctx context.Context, channelID string) (*models.Driver, error)
	SaveDriver(ctx context.Context, d *models.Driver) error
	// SetDriverRating writes only the rating aggregate, leaving status and
	// order fields as they are.
	SetDriverRating(ctx context.Context, id string, avg float64, count int, at time.Time) error
	ListDrivers(ctx context.Context) ([]models.Driver, error)
}

// OrderStore persists orders keyed by order token.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	SaveOrder(ctx context.Context, o *models.Order) error
}

// RatingStore keeps at most one rating per (subject, order).
type RatingStore interface {
	PutRating(ctx context.Context, r *models.Rating) error
	ListRatings(ctx context.Context, subject models.Subject) ([]models.Rating, error)
}

// Store is the system of record. Writes are atomic per document only.
type Store interface {
	DriverStore
	OrderStore
	RatingStore
	Ping(ctx context.Context) error
	Close() error
}

var statusRank = map[models.DriverStatus]int{
	models.DriverOnline:  1,
	models.DriverBusy:    2,
	models.DriverOffline: 3,
}

// sortDrivers orders drivers online first, then busy, then offline, by name
// within a status.
func sortDrivers(ds []models.Driver) {
	rank := func(s models.DriverStatus) int {
		if r, ok := statusRank[s]; ok {
			return r
		}
		return 99
	}
	sort.SliceStable(ds, func(i, j int) bool {
		ri, rj := rank(ds[i].Status), rank(ds[j].Status)
		if ri != rj {
			return ri < rj
		}
		return ds[i].Name < ds[j].Name
	})
}
