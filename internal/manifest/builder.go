package manifest

import (
	"context"
	"fmt"
	"ms-roster/internal/fields"
	"ms-roster/internal/logger"
	"ms-roster/internal/models"
	"sort"
	"strings"
)

type DisplayMode string

const (
	Headers DisplayMode = "HEADERS"
	Compact DisplayMode = "COMPACT"
)

func ParseDisplayMode(s string) (DisplayMode, bool) {
	switch DisplayMode(strings.ToUpper(strings.TrimSpace(s))) {
	case "", Headers:
		return Headers, true
	case Compact:
		return Compact, true
	}
	return "", false
}

const (
	ColumnRowNumber = "row_number"
	ColumnLastName  = "last_name"
	ColumnFirstName = "first_name"
)

// Dynamic keys, after alias resolution and without the "pa_" prefix, that carry participant names.
var (
	lastNameKeys  = []string{"last_name", "surname", "cognome"}
	firstNameKeys = []string{"first_name", "nome"}
)

type Options struct {
	SelectedKeys       []string
	DisplayMode        DisplayMode
	IncludeHidden      bool
	ExcludeUnconfirmed bool
	// SeatBreakdown overrides the builder default when set.
	SeatBreakdown *bool
}

type RosterReader interface {
	EventRoster(ctx context.Context, eventID string) (*models.EventRoster, error)
}

type FieldCatalog interface {
	Resolver(ctx context.Context) (*fields.Resolver, error)
	ListFieldsForEvent(ctx context.Context, eventID string, includeHidden bool) ([]models.FieldDefinition, error)
}

type Builder struct {
	roster         RosterReader
	fields         FieldCatalog
	logger         *logger.Logger
	seatBreakdown  bool
	defaultColumns int
}

type BuilderOption func(*Builder)

func WithSeatBreakdown(on bool) BuilderOption {
	return func(b *Builder) { b.seatBreakdown = on }
}

func WithDefaultColumns(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.defaultColumns = n
		}
	}
}

func NewBuilder(roster RosterReader, catalog FieldCatalog, log *logger.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		roster:         roster,
		fields:         catalog,
		logger:         log,
		seatBreakdown:  true,
		defaultColumns: 5,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build merges order line items and manual bookings of one event into an ordered, grouped row set.
func (b *Builder) Build(ctx context.Context, eventID string, opts Options) (*Manifest, error) {
	mode := opts.DisplayMode
	if mode == "" {
		mode = Headers
	}
	breakdown := b.seatBreakdown
	if opts.SeatBreakdown != nil {
		breakdown = *opts.SeatBreakdown
	}

	roster, err := b.roster.EventRoster(ctx, eventID)
	if err != nil {
		return nil, err
	}
	resolver, err := b.fields.Resolver(ctx)
	if err != nil {
		return nil, fmt.Errorf("load field catalog: %w", err)
	}

	columns, err := b.columns(ctx, eventID, opts, resolver)
	if err != nil {
		return nil, err
	}

	x := expander{resolver: resolver, breakdown: breakdown, columns: columns}
	var rows []Row
	for _, o := range sortedOrders(roster.Orders) {
		for _, li := range sortedItems(o.LineItems) {
			rows = append(rows, x.itemRows(o, li)...)
		}
	}
	for _, mb := range sortedManual(roster.ManualBookings) {
		rows = append(rows, x.manualRows(mb)...)
	}

	if opts.ExcludeUnconfirmed {
		kept := rows[:0]
		for _, r := range rows {
			if r.IsConfirmed {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	m := &Manifest{
		Event:         roster.Event,
		DisplayMode:   mode,
		SeatBreakdown: breakdown,
		Columns:       columns,
		Rows:          []Row{},
		Groups:        []Group{},
	}
	m.finish(rows)

	b.logger.Debug("MANIFEST", fmt.Sprintf("event %s: %d rows, %d groups, %d columns", eventID, len(m.Rows), len(m.Groups), len(m.Columns)))
	return m, nil
}

// columns resolves the selection to canonical fields and puts the fixed columns first.
func (b *Builder) columns(ctx context.Context, eventID string, opts Options, resolver *fields.Resolver) ([]Column, error) {
	var defs []models.FieldDefinition
	seen := map[string]bool{ColumnRowNumber: true, ColumnLastName: true, ColumnFirstName: true}

	if len(opts.SelectedKeys) == 0 {
		available, err := b.fields.ListFieldsForEvent(ctx, eventID, opts.IncludeHidden)
		if err != nil {
			return nil, fmt.Errorf("list fields for event %s: %w", eventID, err)
		}
		var candidates []models.FieldDefinition
		for _, f := range available {
			if isNameKey(f.Key) {
				continue
			}
			candidates = append(candidates, f)
		}
		for _, f := range candidates {
			if f.IsDefaultSelected {
				defs = append(defs, f)
			}
		}
		if len(defs) == 0 {
			for i := 0; i < len(candidates) && i < b.defaultColumns; i++ {
				defs = append(defs, candidates[i])
			}
		}
		for _, f := range defs {
			seen[f.Key] = true
		}
	} else {
		for _, raw := range opts.SelectedKeys {
			key := fields.BaseKey(raw)
			if key == "" || isNameKey(key) {
				continue
			}
			canonical, err := resolver.Resolve(key)
			if err != nil {
				canonical = key
			}
			if seen[canonical] || isNameKey(canonical) {
				continue
			}
			seen[canonical] = true
			def, ok := resolver.Field(canonical)
			if !ok {
				def = models.FieldDefinition{
					Key:          canonical,
					Label:        fields.HumanizeKey(canonical),
					MappingType:  models.MappingColumn,
					DisplayOrder: models.DefaultDisplayOrder,
				}
			}
			if def.Hidden() && !opts.IncludeHidden {
				continue
			}
			defs = append(defs, def)
		}
	}

	fields.SortFields(defs)

	cols := []Column{
		{Key: ColumnRowNumber, Header: "#"},
		{Key: ColumnLastName, Header: "Last name"},
		{Key: ColumnFirstName, Header: "First name"},
	}
	for _, f := range defs {
		cols = append(cols, Column{Key: f.Key, Header: f.Label, IsDynamic: true})
	}
	return cols, nil
}

func isNameKey(key string) bool {
	k := strings.TrimPrefix(strings.ToLower(key), "pa_")
	for _, n := range lastNameKeys {
		if k == n {
			return true
		}
	}
	for _, n := range firstNameKeys {
		if k == n {
			return true
		}
	}
	return false
}

func sortedOrders(in []models.OrderRecord) []models.OrderRecord {
	out := append([]models.OrderRecord(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DateCreated.Equal(out[j].DateCreated) {
			return out[i].DateCreated.Before(out[j].DateCreated)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

// sortedItems puts items without a room first, then rooms in ascending order; position breaks ties.
func sortedItems(in []models.LineItem) []models.LineItem {
	out := append([]models.LineItem(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].RoomIndex, out[j].RoomIndex
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && *a != *b:
			return *a < *b
		}
		return out[i].Position < out[j].Position
	})
	return out
}

func sortedManual(in []models.ManualBooking) []models.ManualBooking {
	out := append([]models.ManualBooking(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
