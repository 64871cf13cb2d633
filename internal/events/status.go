package events

import (
	"ms-roster/internal/apperr"
	"ms-roster/internal/models"
)

var transitions = map[models.EventStatus][]models.EventStatus{
	models.EventPending:   {models.EventConfirmed, models.EventSoldOut, models.EventCancelled},
	models.EventConfirmed: {models.EventPending, models.EventSoldOut, models.EventCancelled, models.EventCompleted},
	models.EventSoldOut:   {models.EventCancelled, models.EventCompleted},
}

// Allowed lists the statuses reachable from the given one.
func Allowed(from models.EventStatus) []models.EventStatus {
	next := transitions[from]
	out := make([]models.EventStatus, len(next))
	copy(out, next)
	return out
}

// ValidateTransition checks a status write. Writing the current status again is accepted as a no-op.
func ValidateTransition(eventID string, from, to models.EventStatus) error {
	if !to.Valid() {
		return apperr.NewValidation("unknown event status", map[string]string{"status": string(to)})
	}
	if from == "" {
		from = models.EventPending
	}
	if from == to {
		return nil
	}
	if from.Terminal() {
		return &apperr.InvalidTransitionError{
			EventID: eventID,
			From:    string(from),
			To:      string(to),
			Reason:  "event is " + string(from) + " and accepts no further changes",
		}
	}
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return &apperr.InvalidTransitionError{
		EventID: eventID,
		From:    string(from),
		To:      string(to),
		Reason:  "allowed from " + string(from) + ": " + joinStatuses(transitions[from]),
	}
}

func joinStatuses(list []models.EventStatus) string {
	out := ""
	for i, s := range list {
		if i > 0 {
			out += ", "
		}
		out += string(s)
	}
	return out
}
