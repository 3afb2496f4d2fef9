package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/shawlshop/internal/auth"
	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/idempotency"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// statusFor переводит доменную ошибку в HTTP-статус и тело ответа.
// OutOfStock отдаётся как 500 с человекочитаемым сообщением.
func statusFor(err error) (int, errorResponse) {
	var validationErr *domain.ValidationError
	var outOfStockErr *domain.OutOfStockError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, errorResponse{Error: domain.ErrValidation.Error(), Details: validationErr.Details()}
	case errors.As(err, &outOfStockErr):
		return http.StatusInternalServerError, errorResponse{Error: outOfStockErr.Message}
	case errors.Is(err, domain.ErrTransaction):
		return http.StatusInternalServerError, errorResponse{Error: "failed to place order"}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch),
		errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrStatusUnknown):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrStatusTransition),
		errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrProductAlreadyExists),
		errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error"}
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	code, body := statusFor(err)
	writeJSON(w, code, body)
}

func writeError(w http.ResponseWriter, code int, message string, details []string) {
	writeJSON(w, code, errorResponse{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRaw(w http.ResponseWriter, code int, body []byte) {
	if code < http.StatusContinue {
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
