package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/taxi-dispatch/internal/models"
)

// MongoStore keeps drivers, orders and ratings as documents. Each write
// replaces one document, which is the only atomicity the dispatch flow relies on.
type MongoStore struct {
	client  *mongo.Client
	drivers *mongo.Collection
	orders  *mongo.Collection
	ratings *mongo.Collection
}

type ratingDoc struct {
	ID          string    `bson:"_id"`
	SubjectKind string    `bson:"subject_kind"`
	SubjectID   string    `bson:"subject_id"`
	OrderID     string    `bson:"order_id"`
	Score       int       `bson:"score"`
	Counterpart string    `bson:"counterpart"`
	CreatedAt   time.Time `bson:"created_at"`
}

func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx2, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx2, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	db := client.Database(dbName)
	s := &MongoStore{
		client:  client,
		drivers: db.Collection("drivers"),
		orders:  db.Collection("orders"),
		ratings: db.Collection("ratings"),
	}
	if err := s.ensureIndexes(ctx2); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.drivers.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "channel_id", Value: 1}}}); err != nil {
		return err
	}
	_, err := s.ratings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "subject_kind", Value: 1}, {Key: "subject_id", Value: 1}},
	})
	return err
}

func (s *MongoStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var d models.Driver
	err := s.drivers.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrDriverNotFound
	}
	if err != nil {
		return nil, models.Dependency("mongo get driver", err)
	}
	return &d, nil
}

func (s *MongoStore) FindDriverByChannel(ctx context.Context, channelID string) (*models.Driver, error) {
	if channelID == "" {
		return nil, models.ErrDriverNotFound
	}
	var d models.Driver
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	err := s.drivers.FindOne(ctx, bson.M{"channel_id": channelID}, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrDriverNotFound
	}
	if err != nil {
		return nil, models.Dependency("mongo find driver", err)
	}
	return &d, nil
}

func (s *MongoStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	_, err := s.drivers.ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	return models.Dependency("mongo save driver", err)
}

func (s *MongoStore) SetDriverRating(ctx context.Context, id string, avg float64, count int, at time.Time) error {
	res, err := s.drivers.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"avg_rating":    avg,
		"ratings_count": count,
		"updated_at":    at,
	}})
	if err != nil {
		return models.Dependency("mongo set driver rating", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrDriverNotFound
	}
	return nil
}

func (s *MongoStore) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	cur, err := s.drivers.Find(ctx, bson.D{})
	if err != nil {
		return nil, models.Dependency("mongo list drivers", err)
	}
	defer cur.Close(ctx)
	var out []models.Driver
	if err := cur.All(ctx, &out); err != nil {
		return nil, models.Dependency("mongo decode drivers", err)
	}
	sortDrivers(out)
	return out, nil
}

func (s *MongoStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := s.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, models.Dependency("mongo get order", err)
	}
	return &o, nil
}

func (s *MongoStore) SaveOrder(ctx context.Context, o *models.Order) error {
	_, err := s.orders.ReplaceOne(ctx, bson.M{"_id": o.ID}, o, options.Replace().SetUpsert(true))
	return models.Dependency("mongo save order", err)
}

func (s *MongoStore) PutRating(ctx context.Context, r *models.Rating) error {
	doc := ratingDoc{
		ID:          r.Subject.String() + "/" + r.OrderID,
		SubjectKind: string(r.Subject.Kind),
		SubjectID:   r.Subject.ID,
		OrderID:     r.OrderID,
		Score:       r.Score,
		Counterpart: r.Counterpart,
		CreatedAt:   r.CreatedAt,
	}
	_, err := s.ratings.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return models.Dependency("mongo put rating", err)
}

func (s *MongoStore) ListRatings(ctx context.Context, subject models.Subject) ([]models.Rating, error) {
	cur, err := s.ratings.Find(ctx, bson.M{"subject_kind": string(subject.Kind), "subject_id": subject.ID})
	if err != nil {
		return nil, models.Dependency("mongo list ratings", err)
	}
	defer cur.Close(ctx)
	var out []models.Rating
	for cur.Next(ctx) {
		var doc ratingDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, models.Dependency("mongo decode rating", err)
		}
		out = append(out, models.Rating{
			Subject:     subject,
			OrderID:     doc.OrderID,
			Score:       doc.Score,
			Counterpart: doc.Counterpart,
			CreatedAt:   doc.CreatedAt,
		})
	}
	return out, models.Dependency("mongo list ratings", cur.Err())
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return models.Dependency("mongo ping", s.client.Ping(ctx, nil))
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
