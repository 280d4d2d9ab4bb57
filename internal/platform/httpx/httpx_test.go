package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitepro/sitepro-erp/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", shared.NewValidationError("quantity", "must be greater than 0"), http.StatusBadRequest},
		{"not found", fmt.Errorf("load: %w", shared.ErrNotFound), http.StatusNotFound},
		{"conflict", shared.Conflictf("po is DRAFT"), http.StatusConflict},
		{"insufficient", fmt.Errorf("%w: 5 on hand", shared.ErrInsufficientStock), http.StatusConflict},
		{"unauthenticated", shared.ErrUnauthenticated, http.StatusUnauthorized},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, httptest.NewRequest(http.MethodGet, "/x", nil), logger, tc.err)
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
			var body ProblemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			require.Equal(t, tc.status, body.Status)
		})
	}
}

func TestRespondErrorIncludesFieldErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, nil, nil, shared.NewValidationError("items[0].quantity", "must be greater than 0"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "must be greater than 0", body.Errors["items[0].quantity"])
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, nil, nil, errors.New("pq: password authentication failed"))
	require.NotContains(t, rr.Body.String(), "password")
}

type samplePayload struct {
	ProjectID int64        `json:"project_id" validate:"required,gt=0"`
	Items     []sampleLine `json:"items" validate:"required,min=1,dive"`
}

type sampleLine struct {
	ItemID int64  `json:"item_id" validate:"required,gt=0"`
	Kind   string `json:"kind" validate:"omitempty,oneof=GOOD DAMAGED"`
}

func TestValidateStructUsesJSONNames(t *testing.T) {
	v := NewValidator()
	err := ValidateStruct(v, samplePayload{Items: []sampleLine{{ItemID: 0, Kind: "LOST"}}})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "project_id")
	require.Contains(t, verr.Fields, "items[0].item_id")
	require.Contains(t, verr.Fields, "items[0].kind")

	require.NoError(t, ValidateStruct(v, samplePayload{ProjectID: 1, Items: []sampleLine{{ItemID: 2}}}))
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"project_id":1,"bogus":true}`))
	var p samplePayload
	err := DecodeJSON(req, &p)
	require.ErrorIs(t, err, shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	require.ErrorIs(t, DecodeJSON(req, &p), shared.ErrValidation)
}
