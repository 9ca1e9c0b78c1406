// Package session holds the per-channel conversational state: the driver
// registration wizard and the "awaiting passenger rating" prompt. Neither is
// part of the system of record.
package session

import (
	"context"
	"time"
)

type Step string

const (
	StepIdle     Step = ""
	StepAskPhone Step = "ask_phone"
	StepAskName  Step = "ask_name"
	StepAskBrand Step = "ask_brand"
	StepAskPlate Step = "ask_plate"
	StepAskPhoto Step = "ask_photo"
)

// Registration accumulates wizard answers until the photo step completes.
type Registration struct {
	Step     Step   `json:"step"`
	Phone    string `json:"phone,omitempty"`
	Name     string `json:"name,omitempty"`
	CarBrand string `json:"carBrand,omitempty"`
	CarPlate string `json:"carPlate,omitempty"`
}

func (r Registration) Active() bool { return r.Step != StepIdle }

// PendingRating is opened when a driver finishes a trip and closed once the
// passenger score is stored.
type PendingRating struct {
	OrderID        string    `json:"orderId"`
	PassengerPhone string    `json:"passengerPhone"`
	OpenedAt       time.Time `json:"openedAt"`
}

// Store keeps both structures keyed by channel identifier. Each write replaces
// the whole value for that channel.
type Store interface {
	Registration(ctx context.Context, channelID string) (Registration, error)
	SaveRegistration(ctx context.Context, channelID string, r Registration) error
	ClearRegistration(ctx context.Context, channelID string) error

	PendingRating(ctx context.Context, channelID string) (PendingRating, bool, error)
	OpenRating(ctx context.Context, channelID string, p PendingRating) error
	ClearRating(ctx context.Context, channelID string) error
}
