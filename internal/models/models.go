package models

import "time"

type DriverStatus string

const (
	DriverOffline DriverStatus = "offline"
	DriverOnline  DriverStatus = "online"
	DriverBusy    DriverStatus = "busy"
)

func (s DriverStatus) Valid() bool {
	switch s {
	case DriverOffline, DriverOnline, DriverBusy:
		return true
	}
	return false
}

// Driver is keyed by the digits-only phone number. Status is busy exactly when
// CurrentOrderID is set.
type Driver struct {
	ID             string       `json:"id" bson:"_id"`
	Phone          string       `json:"phone" bson:"phone"`
	Name           string       `json:"name" bson:"name"`
	CarBrand       string       `json:"carBrand" bson:"car_brand"`
	CarPlate       string       `json:"carPlate" bson:"car_plate"`
	PhotoRef       string       `json:"photoFileId,omitempty" bson:"photo_ref"`
	PhotoURL       string       `json:"photoUrl,omitempty" bson:"photo_url"`
	ChannelID      string       `json:"-" bson:"channel_id"`
	Status         DriverStatus `json:"status" bson:"status"`
	CurrentOrderID *string      `json:"currentOrderId" bson:"current_order_id"`
	OnlineSince    *time.Time   `json:"onlineFrom" bson:"online_since"`
	AvgRating      float64      `json:"avgRating" bson:"avg_rating"`
	RatingsCount   int          `json:"ratingsCount" bson:"ratings_count"`
	CreatedAt      time.Time    `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time    `json:"updatedAt" bson:"updated_at"`
}

// Busy reports whether the driver currently holds an order.
func (d *Driver) Busy() bool { return d.CurrentOrderID != nil && *d.CurrentOrderID != "" }

// DriverPatch carries the fields to merge into a driver record. Nil fields are
// left untouched.
type DriverPatch struct {
	Phone     *string
	Name      *string
	CarBrand  *string
	CarPlate  *string
	PhotoRef  *string
	PhotoURL  *string
	ChannelID *string
	Status    *DriverStatus
}

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderAccepted OrderStatus = "accepted"
	OrderFinished OrderStatus = "finished"
	OrderCanceled OrderStatus = "canceled"
)

// Settled reports whether the order can no longer change.
func (s OrderStatus) Settled() bool { return s == OrderFinished || s == OrderCanceled }

type OrderKind string

const (
	OrderImmediate OrderKind = "immediate"
	OrderScheduled OrderKind = "scheduled"
)

type Order struct {
	ID             string      `json:"id" bson:"_id"`
	Status         OrderStatus `json:"status" bson:"status"`
	Kind           OrderKind   `json:"type" bson:"kind"`
	DriverID       string      `json:"driverId" bson:"driver_id"`
	PassengerPhone string      `json:"passengerPhone" bson:"passenger_phone"`
	PassengerName  string      `json:"passengerName" bson:"passenger_name"`
	Address        string      `json:"address" bson:"address"`
	Comment        string      `json:"comment" bson:"comment"`
	CreatedAt      time.Time   `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time   `json:"updatedAt" bson:"updated_at"`
	FinishedAt     *time.Time  `json:"finishedAt,omitempty" bson:"finished_at"`
}

type SubjectKind string

const (
	SubjectDriver    SubjectKind = "driver"
	SubjectPassenger SubjectKind = "passenger"
)

// Subject identifies whoever a rating is about.
type Subject struct {
	Kind SubjectKind `json:"kind" bson:"kind"`
	ID   string      `json:"id" bson:"id"`
}

func (s Subject) String() string { return string(s.Kind) + "/" + s.ID }

// Rating is unique per (subject, order); a resubmission replaces the score.
type Rating struct {
	Subject     Subject   `json:"subject" bson:"subject"`
	OrderID     string    `json:"orderId" bson:"order_id"`
	Score       int       `json:"rating" bson:"score"`
	Counterpart string    `json:"counterpart,omitempty" bson:"counterpart"`
	CreatedAt   time.Time `json:"createdAt" bson:"created_at"`
}

// Aggregate is the recomputed rating summary for one subject.
type Aggregate struct {
	Subject Subject `json:"subject"`
	Avg     float64 `json:"avgRating"`
	Count   int     `json:"ratingsCount"`
}

const (
	EventOrderAccepted  = "order.accepted"
	EventOrderFinished  = "order.finished"
	EventOrderCanceled  = "order.canceled"
	EventOrderReleased  = "order.released"
	EventRatingRecorded = "rating.recorded"
	EventDriverStatus   = "driver.status"
)

// Event is a dispatch lifecycle fact published for downstream consumers.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	DriverID   string    `json:"driver_id,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Score      int       `json:"score,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
