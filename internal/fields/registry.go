package fields

import (
	"context"
	"fmt"
	"ms-roster/internal/apperr"
	"ms-roster/internal/logger"
	"ms-roster/internal/models"
	"sort"
	"strings"
	"sync"
	"time"
)

type Store interface {
	CreateIfMissing(ctx context.Context, def models.FieldDefinition) (bool, error)
	TouchUsage(ctx context.Context, key, eventID string, at time.Time) error
	GetField(ctx context.Context, key string) (*models.FieldDefinition, error)
	ListFields(ctx context.Context) ([]models.FieldDefinition, error)
	UpdateField(ctx context.Context, def *models.FieldDefinition) error
	DeleteField(ctx context.Context, key string) error
	ListUsage(ctx context.Context) ([]models.FieldUsage, error)
	UsageForEvent(ctx context.Context, eventID string) ([]models.FieldUsage, error)
}

// Observation is one sighting of a dynamic key on an event.
type Observation struct {
	Key     string
	EventID string
	At      time.Time
}

// Registry is the process-wide catalog of dynamic attribute keys.
type Registry struct {
	store      Store
	logger     *logger.Logger
	staleYears int
	now        func() time.Time

	keyLocks sync.Map
	configMu sync.Mutex
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithStaleYears(years int) Option {
	return func(r *Registry) {
		if years >= 0 {
			r.staleYears = years
		}
	}
}

func NewRegistry(store Store, log *logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		logger:     log,
		staleYears: 1,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) lockKey(key string) func() {
	m, _ := r.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// RegisterObservedKey records that key was seen on originEventID now.
func (r *Registry) RegisterObservedKey(ctx context.Context, key, originEventID string) error {
	return r.RegisterObservation(ctx, Observation{Key: key, EventID: originEventID, At: r.now()})
}

// RegisterObservation creates the field with defaults the first time its key is seen and refreshes usage.
// Seat-indexed keys ("cognome #2") are registered under their base key.
func (r *Registry) RegisterObservation(ctx context.Context, obs Observation) error {
	key := BaseKey(obs.Key)
	if key == "" {
		return apperr.NewValidation("field key is empty", nil)
	}
	at := obs.At
	if at.IsZero() {
		at = r.now()
	}

	unlock := r.lockKey(key)
	defer unlock()

	now := r.now()
	created, err := r.store.CreateIfMissing(ctx, models.FieldDefinition{
		Key:          key,
		Label:        HumanizeKey(key),
		MappingType:  models.MappingColumn,
		DisplayOrder: models.DefaultDisplayOrder,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("register field %s: %w", key, err)
	}
	if created {
		r.logger.LogField("CREATE", key, fmt.Sprintf("first seen on event %s", obs.EventID))
	}
	if obs.EventID == "" {
		return nil
	}
	if err := r.store.TouchUsage(ctx, key, obs.EventID, at); err != nil {
		return fmt.Errorf("record usage of %s: %w", key, err)
	}
	return nil
}

// RegisterFields registers every key of a dynamic field map against one event.
func (r *Registry) RegisterFields(ctx context.Context, eventID string, fields map[string]string, at time.Time) error {
	seen := make(map[string]bool, len(fields))
	for raw, v := range fields {
		if strings.TrimSpace(v) == "" {
			continue
		}
		key := BaseKey(raw)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if err := r.RegisterObservation(ctx, Observation{Key: key, EventID: eventID, At: at}); err != nil {
			return err
		}
	}
	return nil
}

// Resolver loads the current catalog into an immutable snapshot.
func (r *Registry) Resolver(ctx context.Context) (*Resolver, error) {
	list, err := r.store.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	return NewResolver(list), nil
}

// ResolveEffectiveKey follows aliasOf pointers to the canonical key. Unknown keys resolve to themselves.
func (r *Registry) ResolveEffectiveKey(ctx context.Context, key string) (string, error) {
	res, err := r.Resolver(ctx)
	if err != nil {
		return "", err
	}
	return res.Resolve(key)
}

// ListFieldsForEvent returns the canonical fields observed on an event, aliases collapsed onto their target.
func (r *Registry) ListFieldsForEvent(ctx context.Context, eventID string, includeHidden bool) ([]models.FieldDefinition, error) {
	usage, err := r.store.UsageForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	res, err := r.Resolver(ctx)
	if err != nil {
		return nil, err
	}
	return res.FieldsFor(usageKeys(usage), includeHidden)
}

func usageKeys(usage []models.FieldUsage) []string {
	keys := make([]string, 0, len(usage))
	for _, u := range usage {
		keys = append(keys, u.Key)
	}
	return keys
}

func (r *Registry) ListFields(ctx context.Context) ([]models.FieldDefinition, error) {
	list, err := r.store.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	SortFields(list)
	return list, nil
}

func (r *Registry) GetField(ctx context.Context, key string) (*models.FieldDefinition, error) {
	return r.store.GetField(ctx, key)
}

// SetFieldConfig applies an operator edit. Alias changes are checked against the whole catalog before
// anything is written.
func (r *Registry) SetFieldConfig(ctx context.Context, key string, patch models.FieldPatch) (*models.FieldDefinition, error) {
	r.configMu.Lock()
	defer r.configMu.Unlock()

	def, err := r.store.GetField(ctx, key)
	if err != nil {
		return nil, err
	}

	if patch.Label != nil {
		label := strings.TrimSpace(*patch.Label)
		if label == "" {
			return nil, apperr.NewValidation("invalid field config", map[string]string{"label": "must not be empty"})
		}
		def.Label = label
	}
	if patch.MappingType != nil {
		if !patch.MappingType.Valid() {
			return nil, apperr.NewValidation("invalid field config", map[string]string{"mappingType": "must be COLUMN or HIDDEN"})
		}
		def.MappingType = *patch.MappingType
	}
	if patch.IsDefaultSelected != nil {
		def.IsDefaultSelected = *patch.IsDefaultSelected
	}
	if patch.DisplayOrder != nil {
		def.DisplayOrder = *patch.DisplayOrder
	}
	if patch.AliasOf != nil {
		target := strings.TrimSpace(*patch.AliasOf)
		if target == "" {
			def.AliasOf = nil
		} else {
			if err := r.checkAlias(ctx, key, target); err != nil {
				return nil, err
			}
			def.AliasOf = &target
		}
	}

	def.UpdatedAt = r.now()
	if err := r.store.UpdateField(ctx, def); err != nil {
		return nil, err
	}
	r.logger.LogField("UPDATE", key, describePatch(patch))
	return def, nil
}

func (r *Registry) checkAlias(ctx context.Context, key, target string) error {
	if target == key {
		return &apperr.CycleError{Key: key, Chain: []string{key, key}}
	}
	list, err := r.store.ListFields(ctx)
	if err != nil {
		return err
	}
	found := false
	for i := range list {
		if list[i].Key == target {
			found = true
		}
		if list[i].Key == key {
			t := target
			list[i].AliasOf = &t
		}
	}
	if !found {
		return apperr.NewValidation("alias target does not exist", map[string]string{"aliasOf": target})
	}
	_, err = NewResolver(list).Resolve(key)
	return err
}

// DeleteField removes a field that nothing aliases.
func (r *Registry) DeleteField(ctx context.Context, key string) error {
	r.configMu.Lock()
	defer r.configMu.Unlock()

	list, err := r.store.ListFields(ctx)
	if err != nil {
		return err
	}
	var referrers []string
	exists := false
	for _, f := range list {
		if f.Key == key {
			exists = true
		}
		if f.AliasOf != nil && *f.AliasOf == key {
			referrers = append(referrers, f.Key)
		}
	}
	if !exists {
		return apperr.NewNotFound("field", key)
	}
	if len(referrers) > 0 {
		sort.Strings(referrers)
		return apperr.NewValidation(
			fmt.Sprintf("field %s is the alias target of %s", key, strings.Join(referrers, ", ")),
			map[string]string{"key": "still referenced"},
		)
	}
	if err := r.store.DeleteField(ctx, key); err != nil {
		return err
	}
	r.logger.LogField("DELETE", key, "removed")
	return nil
}

// UsageReport summarises where each field is used and flags stale or risky configuration.
func (r *Registry) UsageReport(ctx context.Context) (map[string]models.FieldUsageReport, error) {
	list, err := r.store.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := r.store.ListUsage(ctx)
	if err != nil {
		return nil, err
	}

	threshold := time.Date(r.now().Year()-r.staleYears, time.January, 1, 0, 0, 0, 0, time.UTC)

	report := make(map[string]models.FieldUsageReport, len(list))
	aliasedBy := make(map[string][]string)
	for _, f := range list {
		report[f.Key] = models.FieldUsageReport{
			Key:         f.Key,
			Label:       f.Label,
			MappingType: f.MappingType,
			AliasOf:     f.AliasOf,
			EventIDs:    []string{},
		}
		if f.AliasOf != nil {
			aliasedBy[*f.AliasOf] = append(aliasedBy[*f.AliasOf], f.Key)
		}
	}

	for _, u := range usage {
		rep, ok := report[u.Key]
		if !ok {
			continue
		}
		rep.EventIDs = append(rep.EventIDs, u.EventID)
		last := u.LastUsedAt.UTC()
		if rep.LastUsedAt == nil || last.After(*rep.LastUsedAt) {
			rep.LastUsedAt = &last
		}
		report[u.Key] = rep
	}

	res := NewResolver(list)
	for key, rep := range report {
		sort.Strings(rep.EventIDs)
		rep.Count = len(rep.EventIDs)
		rep.IsStale = rep.LastUsedAt == nil || rep.LastUsedAt.Before(threshold)

		if rep.MappingType == models.MappingHidden {
			if refs := aliasedBy[key]; len(refs) > 0 {
				sort.Strings(refs)
				rep.Warnings = append(rep.Warnings, fmt.Sprintf(
					"hidden field is the alias target of %s; their values are hidden as well", strings.Join(refs, ", ")))
			}
		}
		if rep.AliasOf != nil {
			if _, err := res.Resolve(key); err != nil {
				rep.Warnings = append(rep.Warnings, err.Error())
			}
		}
		report[key] = rep
	}
	return report, nil
}

func describePatch(p models.FieldPatch) string {
	var parts []string
	if p.Label != nil {
		parts = append(parts, "label="+*p.Label)
	}
	if p.MappingType != nil {
		parts = append(parts, "mappingType="+string(*p.MappingType))
	}
	if p.AliasOf != nil {
		parts = append(parts, "aliasOf="+*p.AliasOf)
	}
	if p.IsDefaultSelected != nil {
		parts = append(parts, fmt.Sprintf("isDefaultSelected=%t", *p.IsDefaultSelected))
	}
	if p.DisplayOrder != nil {
		parts = append(parts, fmt.Sprintf("displayOrder=%d", *p.DisplayOrder))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, " ")
}
