package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSyncInProgress is returned when a sync run is requested for a scope that is already being synced.
var ErrSyncInProgress = errors.New("a sync is already running for this scope")

// ValidationError rejects a write before anything is persisted.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

func NewValidation(message string, fields map[string]string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

// NotFoundError reports an unknown event, order, booking or field.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// CycleError reports an alias chain that loops back on itself.
type CycleError struct {
	Key   string
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("alias cycle detected for field %q: %s", e.Key, strings.Join(e.Chain, " -> "))
}

// InvalidTransitionError reports a status change the event lifecycle does not allow.
type InvalidTransitionError struct {
	EventID string
	From    string
	To      string
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot move event %s from %s to %s", e.EventID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// UpstreamError is raised when the commerce API keeps failing after retries.
// Processed carries the number of orders upserted before the failure.
type UpstreamError struct {
	Op        string
	Attempts  int
	Processed int
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%d orders processed before failure: %s failed after %d attempts: %v", e.Processed, e.Op, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ConflictSkipped is informational: sync left operator-edited order fields untouched.
type ConflictSkipped struct {
	OrderID string
	Fields  []string
}

func (e *ConflictSkipped) Error() string {
	return fmt.Sprintf("order %s is manually modified, kept local %s", e.OrderID, strings.Join(e.Fields, ", "))
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
