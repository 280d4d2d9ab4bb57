package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/consumption"
	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/observability"
	"github.com/sitepro/sitepro-erp/internal/procurement"
	"github.com/sitepro/sitepro-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	CatalogHandler     *catalog.Handler
	ProcurementHandler *procurement.Handler
	InventoryHandler   *inventory.Handler
	ConsumptionHandler *consumption.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	// RequestLog enables chi's request logger.
	RequestLog bool
}

// NewRouter constructs the chi.Router with SitePro defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.RequestLog {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		if params.CatalogHandler != nil {
			r.Route("/catalog", func(r chi.Router) {
				params.CatalogHandler.MountRoutes(r, RequireActor)
			})
		}
		if params.ProcurementHandler != nil {
			params.ProcurementHandler.MountRoutes(r, RequireActor)
		}
		if params.InventoryHandler != nil {
			params.InventoryHandler.MountRoutes(r, RequireActor)
		}
		if params.ConsumptionHandler != nil {
			params.ConsumptionHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
