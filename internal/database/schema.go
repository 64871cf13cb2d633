package database

import (
	"context"
	"fmt"
	"ms-roster/internal/models"

	"github.com/uptrace/bun"
)

var tables = []interface{}{
	(*models.Event)(nil),
	(*models.OrderRecord)(nil),
	(*models.LineItem)(nil),
	(*models.ManualBooking)(nil),
	(*models.FieldDefinition)(nil),
	(*models.FieldUsage)(nil),
}

var indexes = []struct {
	model   interface{}
	name    string
	columns []string
}{
	{(*models.LineItem)(nil), "idx_line_items_event", []string{"event_id"}},
	{(*models.LineItem)(nil), "idx_line_items_order", []string{"order_id", "position"}},
	{(*models.ManualBooking)(nil), "idx_manual_bookings_event", []string{"event_id", "created_at"}},
	{(*models.FieldUsage)(nil), "idx_field_usage_event", []string{"event_id"}},
	{(*models.OrderRecord)(nil), "idx_orders_date_created", []string{"date_created"}},
}

// CreateSchema creates every roster table from the bun models. The SQL migrations are the source of truth
// in production; this keeps tests and AUTO_MIGRATE=false development databases usable.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	for _, idx := range indexes {
		if _, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
