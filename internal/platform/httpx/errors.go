package httpx

import (
	"errors"
	"net/http"

	"github.com/oakpos/oakpos/internal/ledger"
	"github.com/oakpos/oakpos/internal/money"
	"github.com/oakpos/oakpos/internal/shared"
)

// RespondError maps domain errors to the error envelope. Business-rule and
// stock failures surface their message; anything else stays generic.
func RespondError(w http.ResponseWriter, err error) {
	var stockErr *ledger.InsufficientStockError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.As(err, &stockErr):
		Error(w, http.StatusBadRequest, stockErr.Error())
	case errors.Is(err, shared.ErrNotAllowed):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, money.ErrDivisionByZero):
		Error(w, http.StatusInternalServerError, "internal arithmetic failure")
	default:
		Error(w, http.StatusInternalServerError, "the operation could not be completed")
	}
}
