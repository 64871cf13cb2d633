package syncer

import (
	"context"
	"ms-roster/internal/models"
	"time"
)

// run is the state of one sync invocation. It is owned by a single goroutine.
type run struct {
	id    string
	req   models.SyncRequest
	scope string
	ctx   context.Context

	out         chan<- models.SyncProgress
	broadcaster Broadcaster
	now         func() time.Time

	result      models.SyncResult
	updated     map[string]bool
	knownEvents map[string]bool
	lastBooking map[string]time.Time
	seen        int
	total       *int
	terminated  bool
}

func (r *run) emit(p models.SyncProgress) {
	if r.terminated {
		return
	}
	p.RunID = r.id
	p.Mode = r.req.Mode
	p.Scope = r.scope
	p.At = r.now()
	if p.Status != models.ProgressDone && p.Status != models.ProgressError {
		p.Processed = r.result.Processed
		p.Total = r.total
	}
	if p.Terminal() {
		r.terminated = true
	}

	if r.broadcaster != nil {
		r.broadcaster.Emit(p)
	}
	if r.out == nil {
		return
	}
	// Buffered sends go through even after the listener left, so a cancelled run still
	// queues its terminal event.
	select {
	case r.out <- p:
		return
	default:
	}
	select {
	case r.out <- p:
	case <-r.ctx.Done():
	}
}

func (r *run) progress(phase, message string) {
	r.emit(models.SyncProgress{Status: models.ProgressUpdate, Phase: phase, Message: message})
}

func (r *run) info(phase, message string) {
	r.emit(models.SyncProgress{Status: models.ProgressInfo, Phase: phase, Message: message})
}

func (r *run) terminal(p models.SyncProgress) {
	if p.Result != nil {
		p.Processed = p.Result.Processed
	}
	p.Total = r.total
	r.emit(p)
}

func (r *run) markUpdated(id string) {
	if r.updated[id] {
		return
	}
	r.updated[id] = true
	r.result.UpdatedIDs = append(r.result.UpdatedIDs, id)
}

func (r *run) snapshot() models.SyncResult {
	res := r.result
	res.UpdatedIDs = append([]string{}, r.result.UpdatedIDs...)
	return res
}
