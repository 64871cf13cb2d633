package models

import "time"

type SyncMode string

const (
	SyncFull        SyncMode = "full"
	SyncIncremental SyncMode = "incremental"
	SyncSingleEvent SyncMode = "single_event"
)

func (m SyncMode) Valid() bool {
	switch m {
	case SyncFull, SyncIncremental, SyncSingleEvent:
		return true
	}
	return false
}

type ProgressStatus string

const (
	ProgressUpdate ProgressStatus = "progress"
	ProgressInfo   ProgressStatus = "info"
	ProgressDone   ProgressStatus = "done"
	ProgressError  ProgressStatus = "error"
)

// SyncRequest selects what a run fetches. Only one incremental cursor is used, in the order
// Latest, Since, Days; without any the run continues after the newest local order.
type SyncRequest struct {
	Mode      SyncMode   `json:"mode" validate:"required,oneof=full incremental single_event"`
	Since     *time.Time `json:"since,omitempty"`
	Days      int        `json:"days,omitempty" validate:"min=0"`
	Latest    int        `json:"latest,omitempty" validate:"min=0"`
	ProductID string     `json:"productId,omitempty" validate:"required_if=Mode single_event"`
}

// Scope is the single-flight key of the run: broad runs share one scope, event runs get their own.
func (r SyncRequest) Scope() string {
	if r.Mode == SyncSingleEvent {
		return "event:" + r.ProductID
	}
	return "global"
}

type SyncResult struct {
	UpdatedIDs []string `json:"updatedIds"`
	Processed  int      `json:"processed"`
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Unchanged  int      `json:"unchanged"`
	Skipped    int      `json:"skipped"`
	Conflicts  int      `json:"conflicts"`
	Events     int      `json:"events"`
}

// SyncProgress is one event of a run's progress stream. Every stream ends with exactly one done or error event.
type SyncProgress struct {
	RunID     string         `json:"runId"`
	Mode      SyncMode       `json:"mode"`
	Scope     string         `json:"scope"`
	Status    ProgressStatus `json:"status"`
	Phase     string         `json:"phase,omitempty"`
	Message   string         `json:"message,omitempty"`
	Processed int            `json:"processed"`
	Total     *int           `json:"total,omitempty"`
	Result    *SyncResult    `json:"result,omitempty"`
	At        time.Time      `json:"at"`
}

func (p SyncProgress) Terminal() bool {
	return p.Status == ProgressDone || p.Status == ProgressError
}
