package db

import (
	"context"
	"database/sql"
	"ms-roster/internal/apperr"
	"ms-roster/internal/models"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func New(b *bun.DB) *DB {
	return &DB{Bun: b}
}

// CreateIfMissing inserts the definition unless the key already exists. It reports whether a row was created.
func (d *DB) CreateIfMissing(ctx context.Context, def models.FieldDefinition) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(&def).
		On("CONFLICT (field_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "insert field %s", def.Key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

// TouchUsage records that key was seen on eventID at the given time. lastUsedAt only moves forward,
// so replaying an older observation writes nothing.
func (d *DB) TouchUsage(ctx context.Context, key, eventID string, at time.Time) error {
	at = at.UTC().Truncate(time.Microsecond)
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var u models.FieldUsage
		err := tx.NewSelect().
			Model(&u).
			Where("field_key = ? AND event_id = ?", key, eventID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			u = models.FieldUsage{Key: key, EventID: eventID, FirstSeenAt: at, LastUsedAt: at}
			if _, err := tx.NewInsert().Model(&u).On("CONFLICT (field_key, event_id) DO NOTHING").Exec(ctx); err != nil {
				return errors.Wrapf(err, "insert usage %s/%s", key, eventID)
			}
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "select usage %s/%s", key, eventID)
		}
		if !at.After(u.LastUsedAt) {
			return nil
		}
		u.LastUsedAt = at
		_, err = tx.NewUpdate().
			Model(&u).
			Column("last_used_at").
			Where("field_key = ? AND event_id = ?", key, eventID).
			Exec(ctx)
		return errors.Wrapf(err, "update usage %s/%s", key, eventID)
	})
}

func (d *DB) GetField(ctx context.Context, key string) (*models.FieldDefinition, error) {
	var def models.FieldDefinition
	err := d.Bun.NewSelect().Model(&def).Where("field_key = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewNotFound("field", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select field %s", key)
	}
	return &def, nil
}

func (d *DB) ListFields(ctx context.Context) ([]models.FieldDefinition, error) {
	list := []models.FieldDefinition{}
	err := d.Bun.NewSelect().
		Model(&list).
		Order("display_order ASC", "label ASC", "field_key ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "select fields")
	}
	return list, nil
}

func (d *DB) UpdateField(ctx context.Context, def *models.FieldDefinition) error {
	_, err := d.Bun.NewUpdate().
		Model(def).
		Column("label", "mapping_type", "alias_of", "is_default_selected", "display_order", "updated_at").
		Where("field_key = ?", def.Key).
		Exec(ctx)
	return errors.Wrapf(err, "update field %s", def.Key)
}

// DeleteField removes the definition and its usage rows.
func (d *DB) DeleteField(ctx context.Context, key string) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*models.FieldUsage)(nil)).Where("field_key = ?", key).Exec(ctx); err != nil {
			return errors.Wrapf(err, "delete usage of %s", key)
		}
		res, err := tx.NewDelete().Model((*models.FieldDefinition)(nil)).Where("field_key = ?", key).Exec(ctx)
		if err != nil {
			return errors.Wrapf(err, "delete field %s", key)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return apperr.NewNotFound("field", key)
		}
		return nil
	})
}

func (d *DB) ListUsage(ctx context.Context) ([]models.FieldUsage, error) {
	var list []models.FieldUsage
	err := d.Bun.NewSelect().
		Model(&list).
		Order("field_key ASC", "event_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "select usage")
	}
	return list, nil
}

func (d *DB) UsageForEvent(ctx context.Context, eventID string) ([]models.FieldUsage, error) {
	var list []models.FieldUsage
	err := d.Bun.NewSelect().
		Model(&list).
		Where("event_id = ?", eventID).
		Order("field_key ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "select usage of event %s", eventID)
	}
	return list, nil
}
