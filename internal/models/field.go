package models

import (
	"time"

	"github.com/uptrace/bun"
)

type MappingType string

const (
	MappingColumn MappingType = "COLUMN"
	MappingHidden MappingType = "HIDDEN"
)

func (m MappingType) Valid() bool {
	return m == MappingColumn || m == MappingHidden
}

const DefaultDisplayOrder = 100

type FieldDefinition struct {
	bun.BaseModel `bun:"table:field_definitions"`

	Key               string      `bun:"field_key,pk" json:"key"`
	Label             string      `bun:"label,notnull" json:"label"`
	MappingType       MappingType `bun:"mapping_type,notnull" json:"mappingType"`
	AliasOf           *string     `bun:"alias_of" json:"aliasOf,omitempty"`
	IsDefaultSelected bool        `bun:"is_default_selected,notnull" json:"isDefaultSelected"`
	DisplayOrder      int         `bun:"display_order,notnull" json:"displayOrder"`
	CreatedAt         time.Time   `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt         time.Time   `bun:"updated_at,notnull" json:"updatedAt"`
}

func (f FieldDefinition) Hidden() bool {
	return f.MappingType == MappingHidden
}

// FieldUsage records that a key was observed on an event.
type FieldUsage struct {
	bun.BaseModel `bun:"table:field_usage"`

	Key         string    `bun:"field_key,pk" json:"key"`
	EventID     string    `bun:"event_id,pk" json:"eventId"`
	FirstSeenAt time.Time `bun:"first_seen_at,notnull" json:"firstSeenAt"`
	LastUsedAt  time.Time `bun:"last_used_at,notnull" json:"lastUsedAt"`
}

// FieldPatch is an operator edit. Nil fields are left unchanged; an empty AliasOf clears the alias.
type FieldPatch struct {
	Label             *string      `json:"label,omitempty" validate:"omitempty,min=1,max=120"`
	MappingType       *MappingType `json:"mappingType,omitempty" validate:"omitempty,oneof=COLUMN HIDDEN"`
	AliasOf           *string      `json:"aliasOf,omitempty"`
	IsDefaultSelected *bool        `json:"isDefaultSelected,omitempty"`
	DisplayOrder      *int         `json:"displayOrder,omitempty"`
}

type FieldUsageReport struct {
	Key         string      `json:"key"`
	Label       string      `json:"label"`
	MappingType MappingType `json:"mappingType"`
	AliasOf     *string     `json:"aliasOf,omitempty"`
	EventIDs    []string    `json:"eventIds"`
	Count       int         `json:"count"`
	LastUsedAt  *time.Time  `json:"lastUsedAt,omitempty"`
	IsStale     bool        `json:"isStale"`
	Warnings    []string    `json:"warnings,omitempty"`
}
