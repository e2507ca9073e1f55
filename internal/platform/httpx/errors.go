package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ErrBadRequest marks malformed request payloads.
var ErrBadRequest = shared.NewError(shared.KindValidation, "malformed request")

// StatusFor maps an error category to its HTTP status.
func StatusFor(err error) int {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch shared.KindOf(err) {
	case shared.KindValidation, shared.KindReference:
		return http.StatusUnprocessableEntity
	case shared.KindStateConflict, shared.KindConcurrency:
		return http.StatusConflict
	case shared.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, "Internal Error", "", "")
		return
	}
	kind := string(shared.KindOf(err))
	if shared.Is(err, shared.KindConcurrency) {
		w.Header().Set("Retry-After", "1")
	}
	Problem(w, status, http.StatusText(status), err.Error(), kind)
}
