package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sitepro/sitepro-erp/internal/jobs"
	"github.com/sitepro/sitepro-erp/internal/procurement"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPOPlaced announces a purchase order that was sent to its supplier.
	TaskPOPlaced = "purchasing:po_placed"
	// TaskConsumptionSnapshot recomputes the consumption snapshot table.
	TaskConsumptionSnapshot = "consumption:snapshot"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// NewPOPlacedTask builds the notification task for a placed order.
func NewPOPlacedTask(event procurement.POPlacedEvent) (*asynq.Task, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPOPlaced, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}

// ConsumptionSnapshotPayload configures a snapshot run.
type ConsumptionSnapshotPayload struct {
	Scope string `json:"scope"`
}

// NewConsumptionSnapshotTask builds the nightly snapshot task.
func NewConsumptionSnapshotTask() (*asynq.Task, error) {
	body, err := json.Marshal(ConsumptionSnapshotPayload{Scope: "all"})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsumptionSnapshot, body, asynq.Queue(QueueDefault)), nil
}
