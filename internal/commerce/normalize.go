package commerce

import (
	"errors"
	"fmt"
	"ms-roster/internal/events"
	"ms-roster/internal/models"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed marks a payload missing the identifiers needed to store it.
var ErrMalformed = errors.New("malformed order payload")

// Meta keys with a meaning of their own. Every other key starting with "_" is platform-internal.
const (
	metaRoomIndex = "room_index"
	metaConfirmed = "confirmed"
)

type Normalizer struct {
	unconfirmed map[string]bool
}

// NewNormalizer flags the line items of orders in the given statuses as unconfirmed.
func NewNormalizer(unconfirmedStatuses []string) *Normalizer {
	set := make(map[string]bool, len(unconfirmedStatuses))
	for _, s := range unconfirmedStatuses {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return &Normalizer{unconfirmed: set}
}

// Order converts a payload into an OrderRecord. Line items keep the upstream order.
func (n *Normalizer) Order(o Order) (models.OrderRecord, error) {
	if o.ID <= 0 {
		return models.OrderRecord{}, fmt.Errorf("%w: missing order id", ErrMalformed)
	}
	id := ExternalID(o.ID)

	created, ok := parseTime(o.DateCreatedGMT)
	if !ok {
		created, ok = parseTime(o.DateCreated)
	}
	if !ok {
		return models.OrderRecord{}, fmt.Errorf("%w: order %s has no creation date", ErrMalformed, id)
	}

	status := strings.ToLower(strings.TrimSpace(o.Status))
	rec := models.OrderRecord{
		ExternalID:  id,
		Status:      status,
		DateCreated: created,
		Billing: models.Contact{
			FirstName: strings.TrimSpace(o.Billing.FirstName),
			LastName:  strings.TrimSpace(o.Billing.LastName),
			Email:     strings.TrimSpace(o.Billing.Email),
			Phone:     strings.TrimSpace(o.Billing.Phone),
		},
	}

	for i, it := range o.LineItems {
		if it.ProductID <= 0 {
			return models.OrderRecord{}, fmt.Errorf("%w: order %s line item %d has no product id", ErrMalformed, id, i)
		}
		li := models.LineItem{
			OrderID:        id,
			Position:       i,
			ExternalItemID: ExternalID(it.ID),
			EventID:        ExternalID(it.ProductID),
			ProductName:    strings.TrimSpace(it.Name),
			Quantity:       it.Quantity,
			Confirmed:      !n.unconfirmed[status],
			DynamicFields:  map[string]string{},
		}
		if li.Quantity < 1 {
			li.Quantity = 1
		}
		for _, m := range it.MetaData {
			n.applyMeta(&li, m)
		}
		rec.LineItems = append(rec.LineItems, li)
	}
	return rec, nil
}

func (n *Normalizer) applyMeta(li *models.LineItem, m Meta) {
	key := strings.TrimSpace(m.Key)
	if key == "" {
		return
	}
	value, ok := m.Text()
	if !ok {
		return
	}
	value = strings.TrimSpace(value)

	switch strings.TrimPrefix(key, "_") {
	case metaRoomIndex:
		if idx, err := strconv.Atoi(value); err == nil {
			li.RoomIndex = &idx
		}
		return
	case metaConfirmed:
		switch strings.ToLower(value) {
		case "no", "false", "0":
			li.Confirmed = false
		}
		return
	}
	if strings.HasPrefix(key, "_") || value == "" {
		return
	}
	li.DynamicFields[key] = value
}

// Event converts a product into the sync view of an event. The date is parsed from the SKU, then the name.
func (n *Normalizer) Event(p Product) (models.EventSync, error) {
	if p.ID <= 0 {
		return models.EventSync{}, fmt.Errorf("%w: product without id", ErrMalformed)
	}
	name := strings.TrimSpace(p.Name)
	sku := strings.TrimSpace(p.SKU)
	return models.EventSync{
		ID:        ExternalID(p.ID),
		Name:      name,
		SKU:       sku,
		EventDate: events.EventDateFrom(sku, name),
	}, nil
}

// ItemEvent builds the sync view of an event first seen through an order line item.
func (n *Normalizer) ItemEvent(li models.LineItem, bookedAt time.Time) models.EventSync {
	at := bookedAt
	return models.EventSync{
		ID:            li.EventID,
		Name:          li.ProductName,
		EventDate:     events.EventDateFrom(li.ProductName),
		LastBookingAt: &at,
	}
}
