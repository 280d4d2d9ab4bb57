package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	jobmetrics "github.com/sitepro/sitepro-erp/internal/jobs"
	"github.com/sitepro/sitepro-erp/internal/procurement"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// SupplierDirectory resolves supplier contact details.
type SupplierDirectory interface {
	Get(ctx context.Context, kind catalog.Kind, id int64) (catalog.Entry, error)
}

// POPlacedJob resolves the supplier of a placed order and emits the dispatch
// record picked up by the supplier outbox.
type POPlacedJob struct {
	Suppliers SupplierDirectory
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewPOPlacedJob constructs the handler.
func NewPOPlacedJob(suppliers SupplierDirectory, logger *slog.Logger, metrics *jobmetrics.Metrics) *POPlacedJob {
	return &POPlacedJob{Suppliers: suppliers, Logger: logger, Metrics: metrics}
}

// Handle processes TaskPOPlaced tasks.
func (j *POPlacedJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	var event procurement.POPlacedEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskPOPlaced, err, asynq.SkipRetry)
	}
	if event.POID <= 0 || event.SupplierID <= 0 {
		return fmt.Errorf("%s payload missing ids: %w", TaskPOPlaced, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskPOPlaced)
	defer func() { err = tracker.End(err) }()

	attrs := []any{
		slog.Int64("po_id", event.POID),
		slog.String("po_number", event.Number),
		slog.Int64("supplier_id", event.SupplierID),
		slog.String("total", event.Total.StringFixed(2)),
	}
	if j.Suppliers != nil {
		supplier, lookupErr := j.Suppliers.Get(ctx, catalog.KindSupplier, event.SupplierID)
		switch {
		case errors.Is(lookupErr, shared.ErrNotFound):
			j.log().Warn("supplier vanished before notification", attrs...)
			return nil
		case lookupErr != nil:
			return lookupErr
		}
		attrs = append(attrs, slog.String("supplier", supplier.Name), slog.String("contact", supplier.Contact))
	}
	j.log().Info("purchase order dispatched to supplier", attrs...)
	return nil
}

func (j *POPlacedJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *POPlacedJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPOPlaced))
	}
	return slog.Default().With(slog.String("job", TaskPOPlaced))
}
