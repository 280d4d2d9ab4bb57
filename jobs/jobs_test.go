package jobs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	jobmetrics "github.com/sitepro/sitepro-erp/internal/jobs"
	"github.com/sitepro/sitepro-erp/internal/procurement"
	"github.com/sitepro/sitepro-erp/internal/testing/memdb"
	"github.com/sitepro/sitepro-erp/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func placedEvent(supplierID int64) procurement.POPlacedEvent {
	return procurement.POPlacedEvent{
		POID:       7,
		Number:     "PO-20261017-0007",
		SupplierID: supplierID,
		ProjectID:  3,
		Total:      decimal.RequireFromString("1100.00"),
		PlacedBy:   9,
		PlacedAt:   time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC),
	}
}

func TestClientNotifyPOPlacedEnqueuesTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := jobs.NewClientWith(enq)

	require.NoError(t, client.NotifyPOPlaced(context.Background(), placedEvent(4)))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, jobs.TaskPOPlaced, enq.tasks[0].Type())

	var got procurement.POPlacedEvent
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &got))
	require.Equal(t, int64(7), got.POID)
	require.True(t, got.Total.Equal(decimal.RequireFromString("1100")))

	enq.err = errors.New("redis down")
	err := client.NotifyPOPlaced(context.Background(), placedEvent(4))
	require.ErrorContains(t, err, "redis down")
}

func TestClientEnqueueConsumptionSnapshot(t *testing.T) {
	enq := &fakeEnqueuer{}
	info, err := jobs.NewClientWith(enq).EnqueueConsumptionSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobs.TaskConsumptionSnapshot, info.Type)
}

func TestPOPlacedJobResolvesSupplier(t *testing.T) {
	store := memdb.New()
	supplier := store.Seed(catalog.KindSupplier, "SUP-STEEL")
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	reg := prometheus.NewRegistry()
	job := jobs.NewPOPlacedJob(catalog.NewService(store.Catalog()), logger, jobmetrics.NewMetrics(reg))

	task, err := jobs.NewPOPlacedTask(placedEvent(supplier))
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Contains(t, logs.String(), "purchase order dispatched to supplier")
	require.Contains(t, logs.String(), "supplier=SUP-STEEL")

	require.Equal(t, 1.0, counterValue(t, reg, "sitepro_jobs_total", jobs.TaskPOPlaced, "success"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, job, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if labelsMatch(metric.GetLabel(), job, status) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, job, status string) bool {
	seen := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		seen[pair.GetName()] = pair.GetValue()
	}
	return seen["job"] == job && seen["status"] == status
}

func TestPOPlacedJobSkipsBadPayload(t *testing.T) {
	job := jobs.NewPOPlacedJob(nil, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(jobs.TaskPOPlaced, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(jobs.TaskPOPlaced, []byte(`{"po_id":0}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPOPlacedJobToleratesMissingSupplier(t *testing.T) {
	store := memdb.New()
	job := jobs.NewPOPlacedJob(catalog.NewService(store.Catalog()), nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := jobs.NewPOPlacedTask(placedEvent(404))
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealthEndpoint(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	r := chi.NewRouter()
	jobs.NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Failed: 1}}, logger).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":3,"active":0,"retry":0,"failed":1}`, rr.Body.String())

	r = chi.NewRouter()
	jobs.NewHandler(stubInspector{err: errors.New("no redis")}, logger).MountRoutes(r)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
