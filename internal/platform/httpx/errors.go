package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sitepro/sitepro-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. Errors that
// do not match a known sentinel are logged and answered with a generic 500.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *shared.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteProblem(w, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Detail: "request has invalid fields",
			Errors: verr.Fields,
		})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusServiceUnavailable, "Timeout", "")
	default:
		if logger != nil {
			attrs := []any{slog.Any("error", err)}
			if r != nil {
				attrs = append(attrs, slog.String("method", r.Method), slog.String("path", r.URL.Path))
			}
			logger.Error("unhandled request error", attrs...)
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
