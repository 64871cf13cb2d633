package events

import (
	"context"
	"fmt"
	"ms-roster/internal/logger"
	"ms-roster/internal/manifest"
	"ms-roster/internal/models"
)

type DBLayer interface {
	ListEvents(ctx context.Context) ([]models.Event, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	UpsertEventMeta(ctx context.Context, id string, patch models.EventMetaPatch) (*models.Event, error)
}

type ManifestBuilder interface {
	Build(ctx context.Context, eventID string, opts manifest.Options) (*manifest.Manifest, error)
}

// Summary is the dashboard view of one event.
type Summary struct {
	Event              models.Event         `json:"event"`
	AllowedTransitions []models.EventStatus `json:"allowedTransitions"`
	Progress           BreakEven            `json:"progress"`
	Totals             manifest.Totals      `json:"totals"`
}

type EventService struct {
	DB       DBLayer
	Manifest ManifestBuilder
	Logger   *logger.Logger
}

func NewEventService(db DBLayer, builder ManifestBuilder, log *logger.Logger) *EventService {
	return &EventService{DB: db, Manifest: builder, Logger: log}
}

func (s *EventService) Index(ctx context.Context) (Index, error) {
	list, err := s.DB.ListEvents(ctx)
	if err != nil {
		return Index{}, fmt.Errorf("list events: %w", err)
	}
	return Group(list), nil
}

// Summary counts confirmed participants with the same rules the manifest uses.
func (s *EventService) Summary(ctx context.Context, id string) (*Summary, error) {
	m, err := s.Manifest.Build(ctx, id, manifest.Options{DisplayMode: manifest.Compact})
	if err != nil {
		return nil, err
	}
	ev := m.Event
	return &Summary{
		Event:              ev,
		AllowedTransitions: Allowed(ev.Status),
		Progress:           Progress(ev.Status, ev.MinParticipants, m.Totals.Confirmed),
		Totals:             m.Totals,
	}, nil
}

// Transition moves an existing event to status. The store re-checks the transition inside its transaction.
func (s *EventService) Transition(ctx context.Context, id string, status models.EventStatus) (*models.Event, error) {
	current, err := s.DB.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(id, current.Status, status); err != nil {
		return nil, err
	}
	ev, err := s.DB.UpsertEventMeta(ctx, id, models.EventMetaPatch{Status: &status})
	if err != nil {
		return nil, err
	}
	if current.Status != ev.Status {
		s.Logger.Info("EVENTS", fmt.Sprintf("Event %s moved from %s to %s", id, current.Status, ev.Status))
	}
	return ev, nil
}

// UpdateMeta applies an operator patch. Unknown events get a placeholder record.
func (s *EventService) UpdateMeta(ctx context.Context, id string, patch models.EventMetaPatch) (*models.Event, error) {
	ev, err := s.DB.UpsertEventMeta(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.Logger.Debug("EVENTS", fmt.Sprintf("Event %s metadata updated", id))
	return ev, nil
}
