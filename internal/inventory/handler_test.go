package inventory_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/platform/httpx"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

func newRouter(f *fixture) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	asActor := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithActor(r.Context(), shared.Actor{UserID: 42})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	inventory.NewHandler(logger, f.service).MountRoutes(r, asActor)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerIssueFlow(t *testing.T) {
	f := newFixture(t)
	m := f.material(t, f.project, "10")
	h := newRouter(f)

	body := `{"project_id":` + strconv.FormatInt(f.project, 10) + `,"material_id":` + strconv.FormatInt(m.ID, 10) + `,"quantity":"4"}`
	rr := doJSON(t, h, http.MethodPost, "/issues", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var issue inventory.Issue
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &issue))
	require.Equal(t, int64(42), issue.IssuedBy)
	requireDec(t, "4", issue.Quantity)

	rr = doJSON(t, h, http.MethodPatch, "/issues/"+strconv.FormatInt(issue.ID, 10)+"/receive", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodGet, "/materials?project_id="+strconv.FormatInt(f.project, 10), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list httpx.ListResponse[inventory.Material]
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	requireDec(t, "6", list.Data[0].OnHand)
	require.Equal(t, 1, list.Pagination.Total)
}

func TestHandlerMapsDomainErrors(t *testing.T) {
	f := newFixture(t)
	m := f.material(t, f.project, "3")
	h := newRouter(f)

	body := `{"project_id":` + strconv.FormatInt(f.project, 10) + `,"material_id":` + strconv.FormatInt(m.ID, 10) + `,"quantity":"5"}`
	rr := doJSON(t, h, http.MethodPost, "/issues", body)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr = doJSON(t, h, http.MethodPost, "/returns", `{"issue_id":1,"quantity":"1","quality_status":"BROKEN"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Contains(t, problem.Errors, "quality_status")

	rr = doJSON(t, h, http.MethodGet, "/issues/999", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/issues", `{"unknown":true}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
