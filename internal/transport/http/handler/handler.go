package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/transport/http/middleware"

	"github.com/go-playground/validator"
	"github.com/sirupsen/logrus"
)

const apiPrefix = "/api/v1"

type base struct {
	validate *validator.Validate
	log      logrus.FieldLogger
}

func newBase(log logrus.FieldLogger) base {
	return base{validate: validator.New(), log: log}
}

// decode reads a JSON body into dst and runs the struct validation tags.
func (h base) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Validation error: "+err.Error())
		return false
	}
	return true
}

func (h base) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
	}
	return actor, ok
}

func (h base) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// Вспомогательная функция для отправки ошибок
func (h base) writeError(w http.ResponseWriter, statusCode int, message string) {
	middleware.WriteError(w, statusCode, message, false)
}

// writeServiceError maps domain errors onto HTTP status codes.
func (h base) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
		message = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	middleware.WriteError(w, status, message, models.IsRetryable(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientFunds), errors.Is(err, models.ErrPayoutRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrPaymentVerificationFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrListingAlreadySold),
		errors.Is(err, models.ErrReferralAlreadyApplied),
		errors.Is(err, models.ErrWalletExists),
		errors.Is(err, models.ErrDuplicateReference):
		return http.StatusConflict
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrContention):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
