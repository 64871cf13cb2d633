package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventPending   EventStatus = "PENDING"
	EventConfirmed EventStatus = "CONFIRMED"
	EventSoldOut   EventStatus = "SOLD_OUT"
	EventCancelled EventStatus = "CANCELLED"
	EventCompleted EventStatus = "COMPLETED"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventPending, EventConfirmed, EventSoldOut, EventCancelled, EventCompleted:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s EventStatus) Terminal() bool {
	return s == EventCancelled || s == EventCompleted
}

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID              string      `bun:"id,pk" json:"id"`
	Name            string      `bun:"name,notnull" json:"name"`
	SKU             string      `bun:"sku" json:"sku"`
	EventDate       *time.Time  `bun:"event_date,nullzero" json:"eventDate,omitempty"`
	MinParticipants int         `bun:"min_participants,notnull" json:"minParticipants"`
	IsPinned        bool        `bun:"is_pinned,notnull" json:"isPinned"`
	LastBookingAt   *time.Time  `bun:"last_booking_at,nullzero" json:"lastBookingAt,omitempty"`
	Status          EventStatus `bun:"status,notnull" json:"status"`
	Notes           string      `bun:"notes" json:"notes"`
	CreatedAt       time.Time   `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time   `bun:"updated_at,notnull" json:"updatedAt"`
}

// LegacyFlags are the boolean projections older consumers still read. They are derived from Status and never stored.
type LegacyFlags struct {
	Confirmed bool `json:"confirmed"`
	Cancelled bool `json:"cancelled"`
	Pending   bool `json:"pending"`
}

func FlagsFor(status EventStatus) LegacyFlags {
	return LegacyFlags{
		Confirmed: status == EventConfirmed || status == EventSoldOut || status == EventCompleted,
		Cancelled: status == EventCancelled,
		Pending:   status == EventPending,
	}
}

func (e Event) Flags() LegacyFlags {
	return FlagsFor(e.Status)
}

func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		LegacyFlags
	}{alias: alias(e), LegacyFlags: e.Flags()})
}

// EventSync carries the product facts sync is allowed to write.
type EventSync struct {
	ID            string
	Name          string
	SKU           string
	EventDate     *time.Time
	LastBookingAt *time.Time
}

// EventMetaPatch is the operator-owned part of an event. Nil fields are left unchanged.
type EventMetaPatch struct {
	Status          *EventStatus `json:"status,omitempty"`
	MinParticipants *int         `json:"minParticipants,omitempty" validate:"omitempty,min=0"`
	IsPinned        *bool        `json:"isPinned,omitempty"`
	Notes           *string      `json:"notes,omitempty"`
}
