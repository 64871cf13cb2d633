package events

import (
	"math"
	"ms-roster/internal/models"
)

// BreakEven is the progress of an event towards its minimum participant count.
type BreakEven struct {
	Applicable      bool `json:"applicable"`
	Pct             int  `json:"pct"`
	Reached         bool `json:"reached"`
	Confirmed       int  `json:"confirmed"`
	MinParticipants int  `json:"minParticipants"`
}

// Progress is only meaningful for live events with a positive minimum; the percentage is capped at 100.
func Progress(status models.EventStatus, minParticipants, confirmed int) BreakEven {
	p := BreakEven{Confirmed: confirmed, MinParticipants: minParticipants}
	if status.Terminal() || minParticipants <= 0 {
		return p
	}
	p.Applicable = true
	pct := int(math.Round(100 * float64(confirmed) / float64(minParticipants)))
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	p.Pct = pct
	p.Reached = confirmed >= minParticipants
	return p
}
