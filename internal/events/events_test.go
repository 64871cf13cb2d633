package events

import (
	"errors"
	"ms-roster/internal/apperr"
	"ms-roster/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to models.EventStatus
		ok       bool
	}{
		{models.EventPending, models.EventConfirmed, true},
		{models.EventConfirmed, models.EventPending, true},
		{models.EventPending, models.EventSoldOut, true},
		{models.EventConfirmed, models.EventSoldOut, true},
		{models.EventPending, models.EventCancelled, true},
		{models.EventSoldOut, models.EventCancelled, true},
		{models.EventConfirmed, models.EventCompleted, true},
		{models.EventSoldOut, models.EventCompleted, true},
		{models.EventPending, models.EventCompleted, false},
		{models.EventSoldOut, models.EventPending, false},
		{models.EventSoldOut, models.EventConfirmed, false},
		{models.EventCompleted, models.EventPending, false},
		{models.EventCancelled, models.EventConfirmed, false},
		{models.EventCompleted, models.EventCompleted, true},
		{models.EventPending, models.EventPending, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition("ev-1", tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ite *apperr.InvalidTransitionError
			require.True(t, errors.As(err, &ite))
			assert.Equal(t, string(tt.from), ite.From)
			assert.Equal(t, string(tt.to), ite.To)
			assert.Contains(t, err.Error(), string(tt.from))
		})
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	require.NoError(t, ValidateTransition("ev-1", models.EventPending, models.EventCancelled))
	for _, next := range []models.EventStatus{models.EventPending, models.EventConfirmed, models.EventSoldOut, models.EventCompleted} {
		assert.Error(t, ValidateTransition("ev-1", models.EventCancelled, next))
	}
	assert.Empty(t, Allowed(models.EventCancelled))
}

func TestValidateTransitionUnknownStatus(t *testing.T) {
	err := ValidateTransition("ev-1", models.EventPending, "ARCHIVED")
	assert.True(t, apperr.IsValidation(err))
}

func TestLegacyFlags(t *testing.T) {
	assert.Equal(t, models.LegacyFlags{Pending: true}, models.FlagsFor(models.EventPending))
	assert.Equal(t, models.LegacyFlags{Confirmed: true}, models.FlagsFor(models.EventConfirmed))
	assert.Equal(t, models.LegacyFlags{Confirmed: true}, models.FlagsFor(models.EventSoldOut))
	assert.Equal(t, models.LegacyFlags{Confirmed: true}, models.FlagsFor(models.EventCompleted))
	assert.Equal(t, models.LegacyFlags{Cancelled: true}, models.FlagsFor(models.EventCancelled))
}

func TestProgress(t *testing.T) {
	p := Progress(models.EventPending, 10, 14)
	assert.True(t, p.Applicable)
	assert.Equal(t, 100, p.Pct)
	assert.True(t, p.Reached)

	p = Progress(models.EventConfirmed, 3, 1)
	assert.Equal(t, 33, p.Pct)
	assert.False(t, p.Reached)

	p = Progress(models.EventPending, 8, 5)
	assert.Equal(t, 63, p.Pct)

	assert.False(t, Progress(models.EventPending, 0, 5).Applicable)
	assert.False(t, Progress(models.EventCompleted, 10, 5).Applicable)
	assert.False(t, Progress(models.EventCancelled, 10, 5).Applicable)
}

func TestParseEventDate(t *testing.T) {
	tests := map[string]*time.Time{
		"TRIP-2025-06-14":     date(2025, time.June, 14),
		"gita 14/06/2025":     date(2025, time.June, 14),
		"gita_14.06.2025":     date(2025, time.June, 14),
		"Tour 03-11-2024 bus": date(2024, time.November, 3),
		"BUS20250614":         date(2025, time.June, 14),
		"no date here":        nil,
		"BAD-2025-13-40":      nil,
		"SKU123456789012":     nil,
	}
	for in, want := range tests {
		got := ParseEventDate(in)
		if want == nil {
			assert.Nil(t, got, in)
			continue
		}
		require.NotNil(t, got, in)
		assert.True(t, want.Equal(*got), in)
	}
}

func TestEventDateFromPrefersSKU(t *testing.T) {
	got := EventDateFrom("TRIP-2025-06-14", "Gita 01/01/2030")
	require.NotNil(t, got)
	assert.Equal(t, 2025, got.Year())

	got = EventDateFrom("", "Gita 01/01/2030")
	require.NotNil(t, got)
	assert.Equal(t, 2030, got.Year())
}

func TestGroup(t *testing.T) {
	list := []models.Event{
		{ID: "1", Name: "Roma", EventDate: date(2025, time.June, 20)},
		{ID: "2", Name: "Assisi", EventDate: date(2025, time.June, 20)},
		{ID: "3", Name: "Venezia", EventDate: date(2025, time.June, 2)},
		{ID: "4", Name: "Napoli", EventDate: date(2025, time.March, 1)},
		{ID: "5", Name: "Parigi", EventDate: date(2024, time.December, 31)},
		{ID: "6", Name: "Zermatt"},
		{ID: "7", Name: "Berlino"},
		{ID: "8", Name: "Pinned old", IsPinned: true, EventDate: date(2023, time.January, 1)},
		{ID: "9", Name: "Pinned new", IsPinned: true, EventDate: date(2026, time.January, 1)},
		{ID: "10", Name: "Pinned undated", IsPinned: true},
	}

	idx := Group(list)

	assert.Equal(t, len(list), idx.Count())
	require.Len(t, idx.Pinned, 3)
	assert.Equal(t, []string{"9", "8", "10"}, ids(idx.Pinned))

	require.Len(t, idx.Years, 2)
	assert.Equal(t, 2025, idx.Years[0].Year)
	require.Len(t, idx.Years[0].Months, 2)
	assert.Equal(t, time.June, idx.Years[0].Months[0].Month)
	assert.Equal(t, []string{"3", "2", "1"}, ids(idx.Years[0].Months[0].Events))
	assert.Equal(t, time.March, idx.Years[0].Months[1].Month)
	assert.Equal(t, 2024, idx.Years[1].Year)

	assert.Equal(t, []string{"7", "6"}, ids(idx.Undated))
}

func TestGroupEmpty(t *testing.T) {
	idx := Group(nil)
	assert.Equal(t, 0, idx.Count())
	assert.NotNil(t, idx.Pinned)
	assert.NotNil(t, idx.Years)
	assert.NotNil(t, idx.Undated)
}

func ids(list []models.Event) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}
