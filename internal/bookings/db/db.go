package db

import (
	"context"
	"database/sql"
	"ms-roster/internal/apperr"
	"ms-roster/internal/events"
	"ms-roster/internal/models"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type DB struct {
	Bun *bun.DB
	now func() time.Time
}

func New(b *bun.DB) *DB {
	return &DB{Bun: b, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source. Tests use it to pin timestamps.
func (d *DB) WithClock(now func() time.Time) *DB {
	d.now = now
	return d
}

// ---------------- ORDERS ----------------

// UpsertOrder inserts or refreshes an order keyed by its external id. Upstream facts are refreshed;
// once an operator has edited the order, status and billing stay as the operator left them.
// Identical input performs no writes and reports Changed=false.
func (d *DB) UpsertOrder(ctx context.Context, in models.OrderRecord) (models.OrderRecord, models.UpsertResult, error) {
	var (
		stored models.OrderRecord
		result models.UpsertResult
	)
	if strings.TrimSpace(in.ExternalID) == "" {
		return stored, result, apperr.NewValidation("order has no external id", nil)
	}

	items := normalizeItems(in.ExternalID, in.LineItems)
	in.DateCreated = in.DateCreated.UTC().Truncate(time.Microsecond)

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := getOrder(ctx, tx, in.ExternalID)
		if apperr.IsNotFound(err) {
			in.ManuallyModified = false
			in.StatusOverride = ""
			in.AdminNotes = ""
			in.ModifiedBy = ""
			in.ModifiedAt = nil
			in.SyncedAt = d.now()
			if _, err := tx.NewInsert().Model(&in).Exec(ctx); err != nil {
				return errors.Wrapf(err, "insert order %s", in.ExternalID)
			}
			if err := insertItems(ctx, tx, items); err != nil {
				return err
			}
			in.LineItems = items
			stored = in
			result.Created = true
			result.Changed = true
			return nil
		}
		if err != nil {
			return err
		}

		merged := *existing
		var columns []string

		if !merged.DateCreated.Equal(in.DateCreated) {
			merged.DateCreated = in.DateCreated
			columns = append(columns, "date_created")
		}
		if merged.ManuallyModified {
			if merged.Status != in.Status {
				result.Conflicts = append(result.Conflicts, "status")
			}
			if merged.Billing != in.Billing {
				result.Conflicts = append(result.Conflicts, "billing")
			}
		} else {
			if merged.Status != in.Status {
				merged.Status = in.Status
				columns = append(columns, "status")
			}
			if merged.Billing != in.Billing {
				merged.Billing = in.Billing
				columns = append(columns, "billing_first_name", "billing_last_name", "billing_email", "billing_phone")
			}
		}

		itemsChanged := !sameItems(existing.LineItems, items)
		if len(columns) == 0 && !itemsChanged {
			stored = *existing
			return nil
		}

		merged.SyncedAt = d.now()
		columns = append(columns, "synced_at")
		if _, err := tx.NewUpdate().
			Model(&merged).
			Column(columns...).
			Where("external_id = ?", merged.ExternalID).
			Exec(ctx); err != nil {
			return errors.Wrapf(err, "update order %s", merged.ExternalID)
		}

		if itemsChanged {
			if _, err := tx.NewDelete().
				Model((*models.LineItem)(nil)).
				Where("order_id = ?", merged.ExternalID).
				Exec(ctx); err != nil {
				return errors.Wrapf(err, "clear line items of order %s", merged.ExternalID)
			}
			if err := insertItems(ctx, tx, items); err != nil {
				return err
			}
			merged.LineItems = items
		}

		stored = merged
		result.Changed = true
		return nil
	})
	if err != nil {
		return models.OrderRecord{}, models.UpsertResult{}, err
	}
	return stored, result, nil
}

// GetOrder → fetch one order with all its line items
func (d *DB) GetOrder(ctx context.Context, externalID string) (*models.OrderRecord, error) {
	return getOrder(ctx, d.Bun, externalID)
}

// GetOrdersForEvent returns the orders booked on an event. Each order carries only the line items of that event.
func (d *DB) GetOrdersForEvent(ctx context.Context, eventID string) ([]models.OrderRecord, error) {
	return ordersForEvent(ctx, d.Bun, eventID)
}

// UpdateOrderManual applies an operator edit and marks the order as manually modified.
func (d *DB) UpdateOrderManual(ctx context.Context, externalID string, patch models.OrderPatch, operator string) (*models.OrderRecord, error) {
	if patch.Empty() {
		return nil, apperr.NewValidation("nothing to update", nil)
	}
	if patch.Billing != nil && (strings.TrimSpace(patch.Billing.FirstName) == "" || strings.TrimSpace(patch.Billing.LastName) == "") {
		return nil, apperr.NewValidation("billing contact needs a first and last name", map[string]string{"billing": "required"})
	}

	var updated *models.OrderRecord
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		o, err := getOrder(ctx, tx, externalID)
		if err != nil {
			return err
		}
		columns := []string{"manually_modified", "modified_by", "modified_at"}
		if patch.StatusOverride != nil {
			o.StatusOverride = strings.TrimSpace(*patch.StatusOverride)
			columns = append(columns, "status_override")
		}
		if patch.AdminNotes != nil {
			o.AdminNotes = *patch.AdminNotes
			columns = append(columns, "admin_notes")
		}
		if patch.Billing != nil {
			o.Billing = *patch.Billing
			columns = append(columns, "billing_first_name", "billing_last_name", "billing_email", "billing_phone")
		}
		now := d.now()
		o.ManuallyModified = true
		o.ModifiedBy = operator
		o.ModifiedAt = &now

		if _, err := tx.NewUpdate().
			Model(o).
			Column(columns...).
			Where("external_id = ?", externalID).
			Exec(ctx); err != nil {
			return errors.Wrapf(err, "update order %s", externalID)
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// LatestOrderDate returns the newest dateCreated held locally, or nil when no order exists.
func (d *DB) LatestOrderDate(ctx context.Context) (*time.Time, error) {
	var o models.OrderRecord
	err := d.Bun.NewSelect().
		Model(&o).
		Column("external_id", "date_created").
		Order("date_created DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest order")
	}
	t := o.DateCreated.UTC()
	return &t, nil
}

// ---------------- MANUAL BOOKINGS ----------------

func (d *DB) CreateManualBooking(ctx context.Context, eventID string, in models.ManualBookingInput, createdBy string) (*models.ManualBooking, error) {
	fields := map[string]string{}
	if strings.TrimSpace(in.LastName) == "" {
		fields["lastName"] = "required"
	}
	if strings.TrimSpace(in.FirstName) == "" {
		fields["firstName"] = "required"
	}
	if in.ParticipantCount < 1 {
		fields["participantCount"] = "must be at least 1"
	}
	if len(fields) > 0 {
		return nil, apperr.NewValidation("invalid manual booking", fields)
	}

	mb := &models.ManualBooking{
		ID:      uuid.New().String(),
		EventID: eventID,
		Contact: models.Contact{
			FirstName: strings.TrimSpace(in.FirstName),
			LastName:  strings.TrimSpace(in.LastName),
			Email:     strings.TrimSpace(in.Email),
			Phone:     strings.TrimSpace(in.Phone),
		},
		ParticipantCount: in.ParticipantCount,
		DynamicFields:    cleanFields(in.DynamicFields),
		Note:             in.Note,
		CreatedAt:        d.now(),
		CreatedBy:        createdBy,
	}

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := getEvent(ctx, tx, eventID); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(mb).Exec(ctx); err != nil {
			return errors.Wrap(err, "insert manual booking")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mb, nil
}

func (d *DB) DeleteManualBooking(ctx context.Context, id string) error {
	res, err := d.Bun.NewDelete().
		Model((*models.ManualBooking)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return errors.Wrapf(err, "delete manual booking %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NewNotFound("manual booking", id)
	}
	return nil
}

func (d *DB) ListManualBookings(ctx context.Context, eventID string) ([]models.ManualBooking, error) {
	return manualBookings(ctx, d.Bun, eventID)
}

// ---------------- EVENTS ----------------

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return getEvent(ctx, d.Bun, id)
}

func (d *DB) ListEvents(ctx context.Context) ([]models.Event, error) {
	var list []models.Event
	err := d.Bun.NewSelect().
		Model(&list).
		Order("event_date DESC", "name ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	return list, nil
}

// UpsertEventFromSync writes the product facts sync owns. Operator fields are never touched and
// lastBookingAt only moves forward. It reports whether anything was written.
func (d *DB) UpsertEventFromSync(ctx context.Context, s models.EventSync) (bool, error) {
	if strings.TrimSpace(s.ID) == "" {
		return false, apperr.NewValidation("event has no id", nil)
	}
	changed := false
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := getEvent(ctx, tx, s.ID)
		if apperr.IsNotFound(err) {
			now := d.now()
			name := s.Name
			if name == "" {
				name = s.ID
			}
			ev := &models.Event{
				ID:            s.ID,
				Name:          name,
				SKU:           s.SKU,
				EventDate:     utcPtr(s.EventDate),
				LastBookingAt: utcPtr(s.LastBookingAt),
				Status:        models.EventPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if _, err := tx.NewInsert().Model(ev).Exec(ctx); err != nil {
				return errors.Wrapf(err, "insert event %s", s.ID)
			}
			changed = true
			return nil
		}
		if err != nil {
			return err
		}

		var columns []string
		if s.Name != "" && s.Name != existing.Name {
			existing.Name = s.Name
			columns = append(columns, "name")
		}
		if s.SKU != "" && s.SKU != existing.SKU {
			existing.SKU = s.SKU
			columns = append(columns, "sku")
		}
		if s.EventDate != nil && !timePtrEqual(existing.EventDate, s.EventDate) {
			existing.EventDate = utcPtr(s.EventDate)
			columns = append(columns, "event_date")
		}
		if s.LastBookingAt != nil && (existing.LastBookingAt == nil || s.LastBookingAt.After(*existing.LastBookingAt)) {
			existing.LastBookingAt = utcPtr(s.LastBookingAt)
			columns = append(columns, "last_booking_at")
		}
		if len(columns) == 0 {
			return nil
		}
		existing.UpdatedAt = d.now()
		columns = append(columns, "updated_at")
		if _, err := tx.NewUpdate().Model(existing).Column(columns...).Where("id = ?", s.ID).Exec(ctx); err != nil {
			return errors.Wrapf(err, "update event %s", s.ID)
		}
		changed = true
		return nil
	})
	return changed, err
}

// UpsertEventMeta applies an operator edit. A status change is checked against the lifecycle inside the
// same transaction so a concurrent edit cannot slip past it. Unknown ids get a placeholder event.
func (d *DB) UpsertEventMeta(ctx context.Context, id string, patch models.EventMetaPatch) (*models.Event, error) {
	if patch.MinParticipants != nil && *patch.MinParticipants < 0 {
		return nil, apperr.NewValidation("invalid event meta", map[string]string{"minParticipants": "must be zero or more"})
	}

	var out *models.Event
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ev, err := getEvent(ctx, tx, id)
		created := false
		if apperr.IsNotFound(err) {
			now := d.now()
			ev = &models.Event{ID: id, Name: id, Status: models.EventPending, CreatedAt: now, UpdatedAt: now}
			created = true
		} else if err != nil {
			return err
		}

		var columns []string
		if patch.Status != nil {
			if err := events.ValidateTransition(id, ev.Status, *patch.Status); err != nil {
				return err
			}
			if *patch.Status != ev.Status {
				ev.Status = *patch.Status
				columns = append(columns, "status")
			}
		}
		if patch.MinParticipants != nil && *patch.MinParticipants != ev.MinParticipants {
			ev.MinParticipants = *patch.MinParticipants
			columns = append(columns, "min_participants")
		}
		if patch.IsPinned != nil && *patch.IsPinned != ev.IsPinned {
			ev.IsPinned = *patch.IsPinned
			columns = append(columns, "is_pinned")
		}
		if patch.Notes != nil && *patch.Notes != ev.Notes {
			ev.Notes = *patch.Notes
			columns = append(columns, "notes")
		}

		if created {
			if _, err := tx.NewInsert().Model(ev).Exec(ctx); err != nil {
				return errors.Wrapf(err, "insert event %s", id)
			}
		} else if len(columns) > 0 {
			ev.UpdatedAt = d.now()
			columns = append(columns, "updated_at")
			if _, err := tx.NewUpdate().Model(ev).Column(columns...).Where("id = ?", id).Exec(ctx); err != nil {
				return errors.Wrapf(err, "update event %s", id)
			}
		}
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EventRoster reads the event, its orders and its manual bookings in one transaction.
func (d *DB) EventRoster(ctx context.Context, eventID string) (*models.EventRoster, error) {
	var roster models.EventRoster
	err := d.Bun.RunInTx(ctx, d.snapshotOptions(), func(ctx context.Context, tx bun.Tx) error {
		ev, err := getEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		orders, err := ordersForEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		manual, err := manualBookings(ctx, tx, eventID)
		if err != nil {
			return err
		}
		roster = models.EventRoster{Event: *ev, Orders: orders, ManualBookings: manual}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &roster, nil
}

// snapshotOptions pins Postgres reads to one snapshot. SQLite transactions already see a single snapshot.
func (d *DB) snapshotOptions() *sql.TxOptions {
	if d.Bun.Dialect().Name() != dialect.PG {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

// ---------------- QUERY HELPERS ----------------

func getOrder(ctx context.Context, idb bun.IDB, externalID string) (*models.OrderRecord, error) {
	var o models.OrderRecord
	err := idb.NewSelect().
		Model(&o).
		Where("external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewNotFound("order", externalID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select order %s", externalID)
	}

	var items []models.LineItem
	err = idb.NewSelect().
		Model(&items).
		Where("order_id = ?", externalID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "select line items of order %s", externalID)
	}
	o.LineItems = items
	return &o, nil
}

func ordersForEvent(ctx context.Context, idb bun.IDB, eventID string) ([]models.OrderRecord, error) {
	var items []models.LineItem
	err := idb.NewSelect().
		Model(&items).
		Where("event_id = ?", eventID).
		Order("order_id ASC", "position ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "select line items of event %s", eventID)
	}
	if len(items) == 0 {
		return []models.OrderRecord{}, nil
	}

	itemsByOrder := make(map[string][]models.LineItem)
	var orderIDs []string
	for _, li := range items {
		if _, ok := itemsByOrder[li.OrderID]; !ok {
			orderIDs = append(orderIDs, li.OrderID)
		}
		itemsByOrder[li.OrderID] = append(itemsByOrder[li.OrderID], li)
	}

	var orders []models.OrderRecord
	err = idb.NewSelect().
		Model(&orders).
		Where("external_id IN (?)", bun.In(orderIDs)).
		Order("date_created ASC", "external_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "select orders of event %s", eventID)
	}
	for i := range orders {
		orders[i].LineItems = itemsByOrder[orders[i].ExternalID]
	}
	return orders, nil
}

func manualBookings(ctx context.Context, idb bun.IDB, eventID string) ([]models.ManualBooking, error) {
	list := []models.ManualBooking{}
	err := idb.NewSelect().
		Model(&list).
		Where("event_id = ?", eventID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "select manual bookings of event %s", eventID)
	}
	return list, nil
}

func getEvent(ctx context.Context, idb bun.IDB, id string) (*models.Event, error) {
	var ev models.Event
	err := idb.NewSelect().Model(&ev).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewNotFound("event", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select event %s", id)
	}
	return &ev, nil
}

func insertItems(ctx context.Context, tx bun.Tx, items []models.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
		return errors.Wrap(err, "insert line items")
	}
	return nil
}

// normalizeItems assigns positions in payload order and drops blank dynamic values.
func normalizeItems(orderID string, in []models.LineItem) []models.LineItem {
	out := make([]models.LineItem, len(in))
	for i, li := range in {
		li.ID = 0
		li.OrderID = orderID
		li.Position = i
		if li.Quantity < 1 {
			li.Quantity = 1
		}
		li.DynamicFields = cleanFields(li.DynamicFields)
		out[i] = li
	}
	return out
}

func cleanFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func sameItems(a, b []models.LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Position != y.Position ||
			x.ExternalItemID != y.ExternalItemID ||
			x.EventID != y.EventID ||
			x.ProductName != y.ProductName ||
			x.Quantity != y.Quantity ||
			x.Confirmed != y.Confirmed ||
			!intPtrEqual(x.RoomIndex, y.RoomIndex) ||
			!sameFields(x.DynamicFields, y.DynamicFields) {
			return false
		}
	}
	return true
}

func sameFields(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
