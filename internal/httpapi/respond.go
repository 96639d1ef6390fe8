package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/service"
	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type errorBody struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Status: types.AckError, Error: code, Message: message})
}

// writeServiceError maps service and store errors onto HTTP statuses.
// Anything unrecognized is logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, logger logrus.FieldLogger, op string, err error) {
	var verr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrUnknownKey):
		field := "key_info"
		if errors.As(err, &verr) {
			field = verr.Field
		}
		writeJSON(w, http.StatusBadRequest, errorBody{
			Status: types.AckError, Error: "unknown_key", Field: field, Message: err.Error(),
		})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Status: types.AckError, Error: "validation_error", Field: verr.Field, Message: verr.Error(),
		})
	case errors.Is(err, service.ErrInvalidDeviceID):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Status: types.AckError, Error: "validation_error", Field: "device_id", Message: err.Error(),
		})
	case errors.Is(err, service.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrInvalidAlertTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "name or token already registered")
	default:
		logger.WithError(err).WithField("op", op).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
