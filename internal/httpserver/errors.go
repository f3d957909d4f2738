package httpserver

import (
	"context"
	"errors"
	"net/http"

	"inventoryhub/dashboard/internal/auth"
	"inventoryhub/dashboard/internal/inventory"
)

// writeAPIError maps the session and inventory error kinds to statuses.
// Backend messages are passed through verbatim.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *auth.APIError
	hasAPI := errors.As(err, &apiErr)
	msg := err.Error()
	if hasAPI {
		msg = apiErr.Error()
	}

	switch {
	case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, inventory.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, msg)
	case errors.Is(err, auth.ErrValidation):
		status := http.StatusBadRequest
		if hasAPI && apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
		writeError(w, status, msg)
	case errors.Is(err, auth.ErrBackendUnreachable), errors.Is(err, auth.ErrUnknown):
		writeError(w, http.StatusBadGateway, msg)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
