package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitepro/sitepro-erp/internal/shared"
	_ "github.com/sitepro/sitepro-erp/internal/testing/guard"
)

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("DEFAULT_TAX_RATE", "11")
	t.Setenv("PG_STATEMENT_TIMEOUT", "3s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.DefaultTaxRate.Equal(decimal.NewFromInt(11)))
	require.Equal(t, 3*time.Second, cfg.PGStatementTimeout)
	require.Equal(t, "0 2 * * *", cfg.SnapshotCron)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.False(t, cfg.IsProduction())

	t.Setenv("DEFAULT_TAX_RATE", "-1")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestInTestModeFollowsGuard(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}

func TestIdentityAndRequireActor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen shared.Actor
	protected := Identity(logger)(RequireActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/issues", nil)
	req.Header.Set("X-User-ID", "42")
	req.Header.Set("X-User-Roles", "storekeeper, site_manager,")
	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, int64(42), seen.UserID)
	require.Equal(t, []string{"storekeeper", "site_manager"}, seen.Roles)
	require.True(t, seen.HasRole("storekeeper"))

	for _, header := range []string{"", "abc", "-3"} {
		req = httptest.NewRequest(http.MethodPost, "/api/issues", nil)
		if header != "" {
			req.Header.Set("X-User-ID", header)
		}
		rr = httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnauthorized, rr.Code, header)
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}
}

func TestRouterServesHealthWithSecurityHeaders(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: &Config{AppEnv: "test", RateLimitPerMin: 100},
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/mrrs", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
