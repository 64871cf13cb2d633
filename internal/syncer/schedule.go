package syncer

import (
	"context"
	"errors"
	"fmt"
	"ms-roster/internal/apperr"
	"ms-roster/internal/commerce"
	"ms-roster/internal/models"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// SyncOrder refreshes one order by id, as relayed by the commerce webhook bridge. Runs on their own
// scope, so they may overlap a broad sync; upserts are idempotent.
func (o *Orchestrator) SyncOrder(ctx context.Context, orderID string) (*models.SyncResult, error) {
	if orderID == "" {
		return nil, apperr.NewValidation("order id is required", nil)
	}
	release, err := o.guard.Acquire(ctx, "order:"+orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	r := o.newRun(ctx, models.SyncRequest{}, nil)
	r.scope = "order:" + orderID
	r.broadcaster = nil

	var payload *commerce.Order
	err = o.retry(r, "get order "+orderID, func() error {
		var err error
		payload, err = o.api.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := o.ingest(r, *payload); err != nil {
		return nil, err
	}
	res := r.snapshot()
	o.logger.LogSync(r.id, "order", fmt.Sprintf("order %s: %d updated, %d skipped", orderID, len(res.UpdatedIDs), res.Skipped))
	return &res, nil
}

// Schedule registers a periodic incremental sync. A tick that finds the global scope busy is skipped.
func (o *Orchestrator) Schedule(ctx context.Context, s gocron.Scheduler, every time.Duration) (gocron.Job, error) {
	return s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			res, err := o.Run(ctx, models.SyncRequest{Mode: models.SyncIncremental})
			switch {
			case errors.Is(err, apperr.ErrSyncInProgress):
				o.logger.Info("SYNC", "Scheduled sync skipped: another sync is running")
			case err != nil:
				o.logger.Error("SYNC", fmt.Sprintf("Scheduled sync failed: %v", err))
			default:
				o.logger.Info("SYNC", fmt.Sprintf("Scheduled sync done: %d processed, %d updated", res.Processed, len(res.UpdatedIDs)))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("incremental-sync"),
	)
}
