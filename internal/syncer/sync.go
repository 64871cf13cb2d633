package syncer

import (
	"errors"
	"fmt"
	"ms-roster/internal/apperr"
	"ms-roster/internal/commerce"
	"ms-roster/internal/kafka"
	"ms-roster/internal/models"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func (o *Orchestrator) sync(r *run) error {
	switch r.req.Mode {
	case models.SyncFull:
		if err := o.syncProducts(r, nil); err != nil {
			return err
		}
		return o.syncOrders(r, commerce.OrderQuery{}, o.cfg.MaxOrders)

	case models.SyncIncremental:
		q, limit, productsSince, err := o.incrementalQuery(r)
		if err != nil {
			return err
		}
		if err := o.syncProducts(r, productsSince); err != nil {
			return err
		}
		return o.syncOrders(r, q, limit)

	case models.SyncSingleEvent:
		if err := o.syncProduct(r, r.req.ProductID); err != nil {
			return err
		}
		return o.syncOrders(r, commerce.OrderQuery{ProductID: r.req.ProductID}, o.cfg.MaxOrders)
	}
	return apperr.NewValidation("unknown sync mode", map[string]string{"mode": string(r.req.Mode)})
}

// incrementalQuery picks the cursor: the latest K orders, an explicit timestamp, the last N days, or the
// newest local order. Without local orders it falls back to the configured number of days.
func (o *Orchestrator) incrementalQuery(r *run) (commerce.OrderQuery, int, *time.Time, error) {
	now := o.now().UTC()
	defaultSince := now.AddDate(0, 0, -o.cfg.IncrementalDays)

	switch {
	case r.req.Latest > 0:
		r.info("cursor", fmt.Sprintf("fetching the latest %d orders", r.req.Latest))
		return commerce.OrderQuery{Order: "desc"}, r.req.Latest, &defaultSince, nil
	case r.req.Since != nil:
		since := r.req.Since.UTC()
		r.info("cursor", fmt.Sprintf("fetching orders created after %s", since.Format(time.RFC3339)))
		return commerce.OrderQuery{After: &since}, o.cfg.MaxOrders, &since, nil
	case r.req.Days > 0:
		since := now.AddDate(0, 0, -r.req.Days)
		r.info("cursor", fmt.Sprintf("fetching orders of the last %d days", r.req.Days))
		return commerce.OrderQuery{After: &since}, o.cfg.MaxOrders, &since, nil
	}

	latest, err := o.store.LatestOrderDate(r.ctx)
	if err != nil {
		return commerce.OrderQuery{}, 0, nil, fmt.Errorf("read sync cursor: %w", err)
	}
	since := defaultSince
	if latest != nil {
		since = latest.UTC()
	}
	r.info("cursor", fmt.Sprintf("fetching orders created after %s", since.Format(time.RFC3339)))
	return commerce.OrderQuery{After: &since}, o.cfg.MaxOrders, &since, nil
}

func (o *Orchestrator) syncProducts(r *run, since *time.Time) error {
	for page := 1; ; page++ {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		var p *commerce.ProductPage
		err := o.retry(r, fmt.Sprintf("list products page %d", page), func() error {
			var err error
			p, err = o.api.ListProducts(r.ctx, commerce.ProductQuery{ModifiedAfter: since, Page: page, PerPage: o.pageSize})
			return err
		})
		if err != nil {
			return err
		}
		for _, prod := range p.Products {
			if err := o.applyProduct(r, prod); err != nil {
				return err
			}
		}
		r.progress("products", fmt.Sprintf("products page %d/%d", page, max(p.TotalPages, page)))
		if !hasMore(page, p.TotalPages, len(p.Products), o.pageSize) {
			return nil
		}
	}
}

func (o *Orchestrator) syncProduct(r *run, id string) error {
	var p *commerce.Product
	err := o.retry(r, "get product "+id, func() error {
		var err error
		p, err = o.api.GetProduct(r.ctx, id)
		return err
	})
	var ue *apperr.UpstreamError
	var se *commerce.StatusError
	if errors.As(err, &ue) && errors.As(ue.Err, &se) && se.StatusCode == http.StatusNotFound {
		r.info("products", fmt.Sprintf("product %s not found upstream", id))
		return nil
	}
	if err != nil {
		return err
	}
	if err := o.applyProduct(r, *p); err != nil {
		return err
	}
	r.progress("products", fmt.Sprintf("product %s refreshed", id))
	return nil
}

func (o *Orchestrator) applyProduct(r *run, p commerce.Product) error {
	ev, err := o.normalizer.Event(p)
	if err != nil {
		r.info("products", fmt.Sprintf("skipped product: %v", err))
		return nil
	}
	changed, err := o.store.UpsertEventFromSync(r.ctx, ev)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", ev.ID, err)
	}
	r.knownEvents[ev.ID] = true
	if changed {
		r.result.Events++
	}
	return nil
}

// syncOrders pages through orders sequentially. A positive limit caps the number of payloads read.
func (o *Orchestrator) syncOrders(r *run, q commerce.OrderQuery, limit int) error {
	for page := 1; ; page++ {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		q.Page = page
		q.PerPage = o.pageSize
		var p *commerce.OrderPage
		err := o.retry(r, fmt.Sprintf("list orders page %d", page), func() error {
			var err error
			p, err = o.api.ListOrders(r.ctx, q)
			return err
		})
		if err != nil {
			return err
		}
		if page == 1 && p.Total > 0 {
			total := p.Total
			if limit > 0 && total > limit {
				total = limit
			}
			r.total = &total
		}

		capped := false
		for _, payload := range p.Orders {
			if limit > 0 && r.seen >= limit {
				capped = true
				break
			}
			if err := r.ctx.Err(); err != nil {
				return err
			}
			r.seen++
			if err := o.ingest(r, payload); err != nil {
				return err
			}
		}
		r.progress("orders", fmt.Sprintf("orders page %d/%d", page, max(p.TotalPages, page)))

		if limit > 0 && r.seen >= limit && (capped || hasMore(page, p.TotalPages, len(p.Orders), o.pageSize)) {
			if r.req.Latest == 0 {
				r.info("orders", fmt.Sprintf("stopped at the limit of %d orders", limit))
			}
			return nil
		}
		if !hasMore(page, p.TotalPages, len(p.Orders), o.pageSize) {
			return nil
		}
	}
}

func hasMore(page, totalPages, got, perPage int) bool {
	if totalPages > 0 {
		return page < totalPages
	}
	return got > 0 && got >= perPage
}

func (o *Orchestrator) ingest(r *run, payload commerce.Order) error {
	rec, err := o.normalizer.Order(payload)
	if err != nil {
		r.result.Skipped++
		o.logger.Warn("SYNC", fmt.Sprintf("[%s] %v", r.id, err))
		r.info("orders", fmt.Sprintf("skipped: %v", err))
		return nil
	}
	return o.ingestRecord(r, rec)
}

func (o *Orchestrator) ingestRecord(r *run, rec models.OrderRecord) error {
	for _, li := range rec.LineItems {
		if err := o.touchEvent(r, li, rec.DateCreated); err != nil {
			return err
		}
	}

	stored, res, err := o.store.UpsertOrder(r.ctx, rec)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", rec.ExternalID, err)
	}
	r.result.Processed++
	switch {
	case res.Created:
		r.result.Created++
	case res.Changed:
		r.result.Updated++
	default:
		r.result.Unchanged++
	}

	if len(res.Conflicts) > 0 {
		r.result.Conflicts++
		skipped := &apperr.ConflictSkipped{OrderID: rec.ExternalID, Fields: res.Conflicts}
		o.logger.Info("SYNC", fmt.Sprintf("[%s] %s", r.id, skipped.Error()))
		r.info("orders", skipped.Error())
	}

	// Every ingested order registers its keys, changed or not.
	for _, li := range rec.LineItems {
		if err := o.fields.RegisterFields(r.ctx, li.EventID, li.DynamicFields, rec.DateCreated); err != nil {
			return fmt.Errorf("register fields of order %s: %w", rec.ExternalID, err)
		}
	}
	if !res.Changed {
		return nil
	}

	r.markUpdated(rec.ExternalID)
	o.publishUpserted(r, stored, res.Created)
	return nil
}

// touchEvent makes sure the line item's event exists and records the booking time on it.
func (o *Orchestrator) touchEvent(r *run, li models.LineItem, at time.Time) error {
	id := li.EventID
	if last, ok := r.lastBooking[id]; ok && !at.After(last) {
		return nil
	}

	s := models.EventSync{ID: id, LastBookingAt: &at}
	if !r.knownEvents[id] {
		_, err := o.store.GetEvent(r.ctx, id)
		switch {
		case apperr.IsNotFound(err):
			s = o.normalizer.ItemEvent(li, at)
		case err != nil:
			return fmt.Errorf("load event %s: %w", id, err)
		}
		r.knownEvents[id] = true
	}

	changed, err := o.store.UpsertEventFromSync(r.ctx, s)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", id, err)
	}
	r.lastBooking[id] = at
	if changed {
		r.result.Events++
	}
	return nil
}

func (o *Orchestrator) publishUpserted(r *run, rec models.OrderRecord, created bool) {
	err := o.publisher.PublishOrderUpserted(r.ctx, kafka.OrderUpserted{
		ExternalID: rec.ExternalID,
		EventIDs:   rec.EventIDs(),
		Created:    created,
		SyncedAt:   rec.SyncedAt,
	})
	if err != nil {
		o.logger.Warn("SYNC", fmt.Sprintf("[%s] failed to publish order %s: %v", r.id, rec.ExternalID, err))
	}
}

// retry runs fn with bounded exponential backoff. Only transient commerce failures are retried.
func (o *Orchestrator) retry(r *run, op string, fn func() error) error {
	attempts := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(o.newBackOff(), uint64(o.cfg.RetryAttempts-1)), r.ctx)
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn()
		if err != nil && !commerce.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		msg := fmt.Sprintf("%s failed (attempt %d/%d), retrying in %s: %v", op, attempts, o.cfg.RetryAttempts, wait, err)
		o.logger.Warn("SYNC", fmt.Sprintf("[%s] %s", r.id, msg))
		r.info("retry", msg)
	})
	if err == nil {
		return nil
	}
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &apperr.UpstreamError{Op: op, Attempts: attempts, Processed: r.result.Processed, Err: err}
}
