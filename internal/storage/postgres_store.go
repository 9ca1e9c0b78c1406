package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/taxi-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies a schema script, see migrations/.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return models.Dependency("postgres migrate", err)
}

const driverColumns = `id, phone, name, car_brand, car_plate, photo_ref, photo_url, channel_id, status,
	current_order_id, online_since, avg_rating, ratings_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (*models.Driver, error) {
	var (
		d       models.Driver
		status  string
		orderID sql.NullString
		online  sql.NullTime
	)
	err := row.Scan(&d.ID, &d.Phone, &d.Name, &d.CarBrand, &d.CarPlate, &d.PhotoRef, &d.PhotoURL, &d.ChannelID,
		&status, &orderID, &online, &d.AvgRating, &d.RatingsCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = models.DriverStatus(status)
	if orderID.Valid {
		d.CurrentOrderID = &orderID.String
	}
	if online.Valid {
		d.OnlineSince = &online.Time
	}
	return &d, nil
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDriverNotFound
	}
	if err != nil {
		return nil, models.Dependency("postgres get driver", err)
	}
	return d, nil
}

func (p *PostgresStore) FindDriverByChannel(ctx context.Context, channelID string) (*models.Driver, error) {
	if channelID == "" {
		return nil, models.ErrDriverNotFound
	}
	d, err := scanDriver(p.db.QueryRowContext(ctx,
		`SELECT `+driverColumns+` FROM drivers WHERE channel_id = $1 ORDER BY updated_at DESC LIMIT 1`, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDriverNotFound
	}
	if err != nil {
		return nil, models.Dependency("postgres find driver", err)
	}
	return d, nil
}

func (p *PostgresStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO drivers (`+driverColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
	phone = EXCLUDED.phone, name = EXCLUDED.name, car_brand = EXCLUDED.car_brand,
	car_plate = EXCLUDED.car_plate, photo_ref = EXCLUDED.photo_ref, photo_url = EXCLUDED.photo_url,
	channel_id = EXCLUDED.channel_id, status = EXCLUDED.status, current_order_id = EXCLUDED.current_order_id,
	online_since = EXCLUDED.online_since, avg_rating = EXCLUDED.avg_rating,
	ratings_count = EXCLUDED.ratings_count, updated_at = EXCLUDED.updated_at`,
		d.ID, d.Phone, d.Name, d.CarBrand, d.CarPlate, d.PhotoRef, d.PhotoURL, d.ChannelID, string(d.Status),
		nullString(d.CurrentOrderID), d.OnlineSince, d.AvgRating, d.RatingsCount, d.CreatedAt, d.UpdatedAt)
	return models.Dependency("postgres save driver", err)
}

func (p *PostgresStore) SetDriverRating(ctx context.Context, id string, avg float64, count int, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET avg_rating = $2, ratings_count = $3, updated_at = $4 WHERE id = $1`, id, avg, count, at)
	if err != nil {
		return models.Dependency("postgres set driver rating", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrDriverNotFound
	}
	return nil
}

func (p *PostgresStore) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers`)
	if err != nil {
		return nil, models.Dependency("postgres list drivers", err)
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, models.Dependency("postgres scan driver", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Dependency("postgres list drivers", err)
	}
	sortDrivers(out)
	return out, nil
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var (
		o        models.Order
		status   string
		kind     string
		finished sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
SELECT id, status, kind, driver_id, passenger_phone, passenger_name, address, comment, created_at, updated_at, finished_at
FROM orders WHERE id = $1`, id).Scan(&o.ID, &status, &kind, &o.DriverID, &o.PassengerPhone, &o.PassengerName,
		&o.Address, &o.Comment, &o.CreatedAt, &o.UpdatedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, models.Dependency("postgres get order", err)
	}
	o.Status = models.OrderStatus(status)
	o.Kind = models.OrderKind(kind)
	if finished.Valid {
		o.FinishedAt = &finished.Time
	}
	return &o, nil
}

func (p *PostgresStore) SaveOrder(ctx context.Context, o *models.Order) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO orders (id, status, kind, driver_id, passenger_phone, passenger_name, address, comment, created_at, updated_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status, kind = EXCLUDED.kind, driver_id = EXCLUDED.driver_id,
	passenger_phone = EXCLUDED.passenger_phone, passenger_name = EXCLUDED.passenger_name,
	address = EXCLUDED.address, comment = EXCLUDED.comment,
	updated_at = EXCLUDED.updated_at, finished_at = EXCLUDED.finished_at`,
		o.ID, string(o.Status), string(o.Kind), o.DriverID, o.PassengerPhone, o.PassengerName, o.Address, o.Comment,
		o.CreatedAt, o.UpdatedAt, o.FinishedAt)
	return models.Dependency("postgres save order", err)
}

func (p *PostgresStore) PutRating(ctx context.Context, r *models.Rating) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO ratings (subject_kind, subject_id, order_id, score, counterpart, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (subject_kind, subject_id, order_id) DO UPDATE SET
	score = EXCLUDED.score, counterpart = EXCLUDED.counterpart, created_at = EXCLUDED.created_at`,
		string(r.Subject.Kind), r.Subject.ID, r.OrderID, r.Score, r.Counterpart, r.CreatedAt)
	return models.Dependency("postgres put rating", err)
}

func (p *PostgresStore) ListRatings(ctx context.Context, subject models.Subject) ([]models.Rating, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT order_id, score, counterpart, created_at FROM ratings WHERE subject_kind = $1 AND subject_id = $2`,
		string(subject.Kind), subject.ID)
	if err != nil {
		return nil, models.Dependency("postgres list ratings", err)
	}
	defer rows.Close()
	var out []models.Rating
	for rows.Next() {
		r := models.Rating{Subject: subject}
		if err := rows.Scan(&r.OrderID, &r.Score, &r.Counterpart, &r.CreatedAt); err != nil {
			return nil, models.Dependency("postgres scan rating", err)
		}
		out = append(out, r)
	}
	return out, models.Dependency("postgres list ratings", rows.Err())
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return models.Dependency("postgres ping", p.db.PingContext(ctx))
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
