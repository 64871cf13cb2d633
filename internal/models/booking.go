package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Contact struct {
	FirstName string `bun:"first_name" json:"firstName"`
	LastName  string `bun:"last_name" json:"lastName"`
	Email     string `bun:"email" json:"email"`
	Phone     string `bun:"phone" json:"phone"`
}

// OrderRecord is one order pulled from the commerce platform, keyed by its external id.
type OrderRecord struct {
	bun.BaseModel `bun:"table:orders"`

	ExternalID       string     `bun:"external_id,pk" json:"externalId"`
	Status           string     `bun:"status" json:"status"`
	StatusOverride   string     `bun:"status_override" json:"statusOverride,omitempty"`
	DateCreated      time.Time  `bun:"date_created,notnull" json:"dateCreated"`
	Billing          Contact    `bun:"embed:billing_" json:"billing"`
	AdminNotes       string     `bun:"admin_notes" json:"adminNotes,omitempty"`
	ManuallyModified bool       `bun:"manually_modified,notnull" json:"manuallyModified"`
	ModifiedBy       string     `bun:"modified_by" json:"modifiedBy,omitempty"`
	ModifiedAt       *time.Time `bun:"modified_at,nullzero" json:"modifiedAt,omitempty"`
	SyncedAt         time.Time  `bun:"synced_at,notnull" json:"syncedAt"`

	LineItems []LineItem `bun:"-" json:"lineItems"`
}

// EffectiveStatus prefers the operator override over the upstream status.
func (o OrderRecord) EffectiveStatus() string {
	if o.StatusOverride != "" {
		return o.StatusOverride
	}
	return o.Status
}

// EventIDs lists the distinct events the order's line items reference, in item order.
func (o OrderRecord) EventIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, li := range o.LineItems {
		if li.EventID == "" || seen[li.EventID] {
			continue
		}
		seen[li.EventID] = true
		ids = append(ids, li.EventID)
	}
	return ids
}

type LineItem struct {
	bun.BaseModel `bun:"table:line_items"`

	ID             int64             `bun:"id,pk,autoincrement" json:"-"`
	OrderID        string            `bun:"order_id,notnull" json:"orderId"`
	Position       int               `bun:"position,notnull" json:"position"`
	ExternalItemID string            `bun:"external_item_id" json:"externalItemId"`
	EventID        string            `bun:"event_id,notnull" json:"eventId"`
	ProductName    string            `bun:"product_name" json:"productName"`
	Quantity       int               `bun:"quantity,notnull" json:"quantity"`
	Confirmed      bool              `bun:"confirmed,notnull" json:"confirmed"`
	RoomIndex      *int              `bun:"room_index" json:"roomIndex,omitempty"`
	DynamicFields  map[string]string `bun:"dynamic_fields" json:"dynamicFields"`
}

// ManualBooking is a participant block entered by an operator. Sync never touches it.
type ManualBooking struct {
	bun.BaseModel `bun:"table:manual_bookings"`

	ID               string            `bun:"id,pk" json:"id"`
	EventID          string            `bun:"event_id,notnull" json:"eventId"`
	Contact          Contact           `bun:"embed:contact_" json:"contact"`
	ParticipantCount int               `bun:"participant_count,notnull" json:"participantCount"`
	DynamicFields    map[string]string `bun:"dynamic_fields" json:"dynamicFields"`
	Note             string            `bun:"note" json:"note,omitempty"`
	CreatedAt        time.Time         `bun:"created_at,notnull" json:"createdAt"`
	CreatedBy        string            `bun:"created_by" json:"createdBy,omitempty"`
}

type ManualBookingInput struct {
	FirstName        string            `json:"firstName" validate:"required"`
	LastName         string            `json:"lastName" validate:"required"`
	Email            string            `json:"email" validate:"omitempty,email"`
	Phone            string            `json:"phone"`
	ParticipantCount int               `json:"participantCount" validate:"required,min=1"`
	DynamicFields    map[string]string `json:"dynamicFields"`
	Note             string            `json:"note"`
}

// OrderPatch is the operator edit path for an order. Applying it marks the order manually modified.
type OrderPatch struct {
	StatusOverride *string  `json:"statusOverride,omitempty"`
	AdminNotes     *string  `json:"adminNotes,omitempty"`
	Billing        *Contact `json:"billing,omitempty"`
}

func (p OrderPatch) Empty() bool {
	return p.StatusOverride == nil && p.AdminNotes == nil && p.Billing == nil
}

// UpsertResult reports what an order upsert did.
type UpsertResult struct {
	Created bool `json:"created"`
	Changed bool `json:"changed"`
	// Conflicts names operator-owned fields that upstream wanted to change but were kept.
	Conflicts []string `json:"conflicts,omitempty"`
}

// EventRoster is a consistent read of everything booked on one event.
type EventRoster struct {
	Event          Event
	Orders         []OrderRecord
	ManualBookings []ManualBooking
}
