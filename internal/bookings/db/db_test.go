package db_test

import (
	"context"
	"errors"
	"ms-roster/internal/apperr"
	"ms-roster/internal/bookings/db"
	"ms-roster/internal/database/dbtest"
	"ms-roster/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *db.DB {
	return db.New(dbtest.New(t)).WithClock(func() time.Time { return fixedNow })
}

func intPtr(i int) *int { return &i }

func sampleOrder(id string) models.OrderRecord {
	return models.OrderRecord{
		ExternalID:  id,
		Status:      "processing",
		DateCreated: time.Date(2025, time.April, 10, 9, 30, 0, 0, time.UTC),
		Billing:     models.Contact{FirstName: "Anna", LastName: "Rossi", Email: "anna@example.com", Phone: "333"},
		LineItems: []models.LineItem{
			{ExternalItemID: "11", EventID: "ev-1", ProductName: "Gita Assisi", Quantity: 2, Confirmed: true,
				DynamicFields: map[string]string{"pa_fermata": "Milano"}},
			{ExternalItemID: "12", EventID: "ev-1", ProductName: "Gita Assisi", Quantity: 1, Confirmed: true, RoomIndex: intPtr(1),
				DynamicFields: map[string]string{"cognome #1": "Bianchi"}},
		},
	}
}

func seedEvent(t *testing.T, store *db.DB, id string) {
	_, err := store.UpsertEventFromSync(context.Background(), models.EventSync{ID: id, Name: "Event " + id})
	require.NoError(t, err)
}

func TestUpsertOrderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	stored, res, err := store.UpsertOrder(ctx, sampleOrder("1001"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Changed)
	assert.Len(t, stored.LineItems, 2)

	_, res, err = store.UpsertOrder(ctx, sampleOrder("1001"))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.False(t, res.Changed)
	assert.Empty(t, res.Conflicts)

	got, err := store.GetOrder(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "processing", got.Status)
	require.Len(t, got.LineItems, 2)
	assert.Equal(t, 0, got.LineItems[0].Position)
	assert.Equal(t, "Milano", got.LineItems[0].DynamicFields["pa_fermata"])
	require.NotNil(t, got.LineItems[1].RoomIndex)
	assert.Equal(t, 1, *got.LineItems[1].RoomIndex)

	count, err := store.Bun.NewSelect().Model((*models.LineItem)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.Bun.NewSelect().Model((*models.OrderRecord)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertOrderRefreshesUpstreamFacts(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	_, _, err := store.UpsertOrder(ctx, sampleOrder("1002"))
	require.NoError(t, err)

	next := sampleOrder("1002")
	next.Status = "completed"
	next.LineItems[0].Quantity = 3
	_, res, err := store.UpsertOrder(ctx, next)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	got, err := store.GetOrder(ctx, "1002")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, 3, got.LineItems[0].Quantity)
}

func TestManualEditSurvivesSync(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	_, _, err := store.UpsertOrder(ctx, sampleOrder("1003"))
	require.NoError(t, err)

	override := "confirmed-by-phone"
	notes := "pays at departure"
	edited, err := store.UpdateOrderManual(ctx, "1003", models.OrderPatch{
		StatusOverride: &override,
		AdminNotes:     &notes,
		Billing:        &models.Contact{FirstName: "Anna Maria", LastName: "Rossi"},
	}, "operator-7")
	require.NoError(t, err)
	assert.True(t, edited.ManuallyModified)
	assert.Equal(t, "operator-7", edited.ModifiedBy)
	require.NotNil(t, edited.ModifiedAt)

	upstream := sampleOrder("1003")
	upstream.Status = "cancelled"
	upstream.LineItems[0].DynamicFields["pa_fermata"] = "Bologna"
	_, res, err := store.UpsertOrder(ctx, upstream)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.ElementsMatch(t, []string{"status", "billing"}, res.Conflicts)

	got, err := store.GetOrder(ctx, "1003")
	require.NoError(t, err)
	assert.Equal(t, "processing", got.Status)
	assert.Equal(t, override, got.StatusOverride)
	assert.Equal(t, override, got.EffectiveStatus())
	assert.Equal(t, notes, got.AdminNotes)
	assert.Equal(t, "Anna Maria", got.Billing.FirstName)
	assert.True(t, got.ManuallyModified)
	assert.Equal(t, "Bologna", got.LineItems[0].DynamicFields["pa_fermata"])
}

func TestUpdateOrderManualValidation(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	_, err := store.UpdateOrderManual(ctx, "missing", models.OrderPatch{}, "op")
	assert.True(t, apperr.IsValidation(err))

	notes := "x"
	_, err = store.UpdateOrderManual(ctx, "missing", models.OrderPatch{AdminNotes: &notes}, "op")
	assert.True(t, apperr.IsNotFound(err))
}

func TestGetOrdersForEventFiltersItems(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	mixed := sampleOrder("2001")
	mixed.LineItems = append(mixed.LineItems, models.LineItem{ExternalItemID: "13", EventID: "ev-2", Quantity: 4, Confirmed: true})
	_, _, err := store.UpsertOrder(ctx, mixed)
	require.NoError(t, err)

	earlier := sampleOrder("2000")
	earlier.DateCreated = earlier.DateCreated.Add(-24 * time.Hour)
	_, _, err = store.UpsertOrder(ctx, earlier)
	require.NoError(t, err)

	orders, err := store.GetOrdersForEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "2000", orders[0].ExternalID)
	assert.Equal(t, "2001", orders[1].ExternalID)
	assert.Len(t, orders[1].LineItems, 2)

	orders, err = store.GetOrdersForEvent(ctx, "ev-2")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Len(t, orders[0].LineItems, 1)
	assert.Equal(t, 4, orders[0].LineItems[0].Quantity)

	orders, err = store.GetOrdersForEvent(ctx, "ev-none")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestLatestOrderDate(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	latest, err := store.LatestOrderDate(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, _, err = store.UpsertOrder(ctx, sampleOrder("3001"))
	require.NoError(t, err)
	newer := sampleOrder("3002")
	newer.DateCreated = time.Date(2025, time.April, 20, 8, 0, 0, 0, time.UTC)
	_, _, err = store.UpsertOrder(ctx, newer)
	require.NoError(t, err)

	latest, err = store.LatestOrderDate(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, newer.DateCreated.Equal(*latest))
}

func TestManualBookings(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	seedEvent(t, store, "ev-1")

	_, err := store.CreateManualBooking(ctx, "ev-1", models.ManualBookingInput{FirstName: "Luca", ParticipantCount: 1}, "op")
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "lastName")

	_, err = store.CreateManualBooking(ctx, "ev-404", models.ManualBookingInput{FirstName: "Luca", LastName: "Verdi", ParticipantCount: 1}, "op")
	assert.True(t, apperr.IsNotFound(err))

	mb, err := store.CreateManualBooking(ctx, "ev-1", models.ManualBookingInput{
		FirstName:        " Luca ",
		LastName:         "Verdi",
		ParticipantCount: 3,
		DynamicFields:    map[string]string{"pa_fermata": "Roma", "blank": " "},
	}, "op")
	require.NoError(t, err)
	assert.Equal(t, "Luca", mb.Contact.FirstName)
	assert.Equal(t, map[string]string{"pa_fermata": "Roma"}, mb.DynamicFields)
	assert.Equal(t, "op", mb.CreatedBy)

	list, err := store.ListManualBookings(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].ParticipantCount)
	assert.Equal(t, "Verdi", list[0].Contact.LastName)

	require.NoError(t, store.DeleteManualBooking(ctx, mb.ID))
	assert.True(t, apperr.IsNotFound(store.DeleteManualBooking(ctx, mb.ID)))

	list, err = store.ListManualBookings(ctx, "ev-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpsertEventFromSync(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	d := time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC)
	first := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	changed, err := store.UpsertEventFromSync(ctx, models.EventSync{ID: "ev-1", Name: "Assisi", SKU: "ASS-2025-06-14", EventDate: &d, LastBookingAt: &first})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.UpsertEventFromSync(ctx, models.EventSync{ID: "ev-1", Name: "Assisi", SKU: "ASS-2025-06-14", EventDate: &d, LastBookingAt: &first})
	require.NoError(t, err)
	assert.False(t, changed)

	older := first.Add(-time.Hour)
	changed, err = store.UpsertEventFromSync(ctx, models.EventSync{ID: "ev-1", LastBookingAt: &older})
	require.NoError(t, err)
	assert.False(t, changed)

	ev, err := store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Assisi", ev.Name)
	assert.Equal(t, models.EventPending, ev.Status)
	require.NotNil(t, ev.LastBookingAt)
	assert.True(t, first.Equal(*ev.LastBookingAt))
	require.NotNil(t, ev.EventDate)
	assert.True(t, d.Equal(*ev.EventDate))
}

func TestUpsertEventMeta(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	seedEvent(t, store, "ev-1")

	confirmed := models.EventConfirmed
	minP := 10
	pinned := true
	ev, err := store.UpsertEventMeta(ctx, "ev-1", models.EventMetaPatch{Status: &confirmed, MinParticipants: &minP, IsPinned: &pinned})
	require.NoError(t, err)
	assert.Equal(t, models.EventConfirmed, ev.Status)
	assert.Equal(t, 10, ev.MinParticipants)
	assert.True(t, ev.IsPinned)

	// sync never touches operator fields
	_, err = store.UpsertEventFromSync(ctx, models.EventSync{ID: "ev-1", Name: "Renamed"})
	require.NoError(t, err)
	ev, err = store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", ev.Name)
	assert.Equal(t, models.EventConfirmed, ev.Status)
	assert.True(t, ev.IsPinned)

	completed := models.EventCompleted
	_, err = store.UpsertEventMeta(ctx, "ev-1", models.EventMetaPatch{Status: &completed})
	require.NoError(t, err)

	pending := models.EventPending
	notes := "should not apply"
	_, err = store.UpsertEventMeta(ctx, "ev-1", models.EventMetaPatch{Status: &pending, Notes: &notes})
	var ite *apperr.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, "COMPLETED", ite.From)

	ev, err = store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventCompleted, ev.Status)
	assert.Empty(t, ev.Notes)

	negative := -1
	_, err = store.UpsertEventMeta(ctx, "ev-1", models.EventMetaPatch{MinParticipants: &negative})
	assert.True(t, apperr.IsValidation(err))
}

func TestUpsertEventMetaCreatesPlaceholder(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	notes := "bus from Milano"
	ev, err := store.UpsertEventMeta(ctx, "ev-new", models.EventMetaPatch{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "ev-new", ev.Name)
	assert.Equal(t, models.EventPending, ev.Status)

	got, err := store.GetEvent(ctx, "ev-new")
	require.NoError(t, err)
	assert.Equal(t, notes, got.Notes)
}

func TestEventRoster(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	_, err := store.EventRoster(ctx, "ev-1")
	assert.True(t, apperr.IsNotFound(err))

	seedEvent(t, store, "ev-1")
	_, _, err = store.UpsertOrder(ctx, sampleOrder("4001"))
	require.NoError(t, err)
	_, err = store.CreateManualBooking(ctx, "ev-1", models.ManualBookingInput{FirstName: "Luca", LastName: "Verdi", ParticipantCount: 1}, "op")
	require.NoError(t, err)

	roster, err := store.EventRoster(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", roster.Event.ID)
	assert.Len(t, roster.Orders, 1)
	assert.Len(t, roster.ManualBookings, 1)
}

func TestListEvents(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	seedEvent(t, store, "ev-1")
	seedEvent(t, store, "ev-2")

	list, err := store.ListEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
