package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

// MemoryStore keeps everything in process. Values are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
	orders  map[string]models.Order
	ratings map[models.Subject]map[string]models.Rating
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers: make(map[string]models.Driver),
		orders:  make(map[string]models.Order),
		ratings: make(map[models.Subject]map[string]models.Rating),
	}
}

func (m *MemoryStore) GetDriver(_ context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, models.ErrDriverNotFound
	}
	return cloneDriver(d), nil
}

// FindDriverByChannel returns the most recently updated driver on the channel.
func (m *MemoryStore) FindDriverByChannel(_ context.Context, channelID string) (*models.Driver, error) {
	if channelID == "" {
		return nil, models.ErrDriverNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.Driver
	for _, d := range m.drivers {
		if d.ChannelID != channelID {
			continue
		}
		if found == nil || d.UpdatedAt.After(found.UpdatedAt) || (d.UpdatedAt.Equal(found.UpdatedAt) && d.ID > found.ID) {
			found = cloneDriver(d)
		}
	}
	if found == nil {
		return nil, models.ErrDriverNotFound
	}
	return found, nil
}

func (m *MemoryStore) SaveDriver(_ context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = *cloneDriver(*d)
	return nil
}

func (m *MemoryStore) SetDriverRating(_ context.Context, id string, avg float64, count int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.ErrDriverNotFound
	}
	d.AvgRating, d.RatingsCount, d.UpdatedAt = avg, count, at
	m.drivers[id] = d
	return nil
}

func (m *MemoryStore) ListDrivers(_ context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, *cloneDriver(d))
	}
	m.mu.RUnlock()
	sortDrivers(out)
	return out, nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) SaveOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *cloneOrder(*o)
	return nil
}

func (m *MemoryStore) PutRating(_ context.Context, r *models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byOrder, ok := m.ratings[r.Subject]
	if !ok {
		byOrder = make(map[string]models.Rating)
		m.ratings[r.Subject] = byOrder
	}
	byOrder[r.OrderID] = *r
	return nil
}

func (m *MemoryStore) ListRatings(_ context.Context, subject models.Subject) ([]models.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byOrder := m.ratings[subject]
	out := make([]models.Rating, 0, len(byOrder))
	for _, r := range byOrder {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func cloneDriver(d models.Driver) *models.Driver {
	if d.CurrentOrderID != nil {
		id := *d.CurrentOrderID
		d.CurrentOrderID = &id
	}
	if d.OnlineSince != nil {
		t := *d.OnlineSince
		d.OnlineSince = &t
	}
	return &d
}

func cloneOrder(o models.Order) *models.Order {
	if o.FinishedAt != nil {
		t := *o.FinishedAt
		o.FinishedAt = &t
	}
	return &o
}
