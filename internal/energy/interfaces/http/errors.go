package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"community-energy/internal/auth"
	energy "community-energy/internal/energy/domain"
)

const (
	kindNotFound     = "not_found"
	kindInvalidInput = "invalid_input"
	kindConflict     = "conflict"
	kindOverflow     = "overflow"
	kindUnauthorized = "unauthorized"
	kindForbidden    = "forbidden"
	kindRateLimited  = "rate_limited"
	kindInternal     = "internal"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps an engine error to a status code and error kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, energy.ErrMemberNotFound),
		errors.Is(err, energy.ErrDeviceNotFound):
		return http.StatusNotFound, kindNotFound
	case errors.Is(err, energy.ErrInvalidMember),
		errors.Is(err, energy.ErrInvalidDevices),
		errors.Is(err, energy.ErrInvalidShare),
		errors.Is(err, energy.ErrNoSources),
		errors.Is(err, energy.ErrNoRequests),
		errors.Is(err, energy.ErrInvalidQuantity),
		errors.Is(err, energy.ErrInvalidPrice):
		return http.StatusBadRequest, kindInvalidInput
	case errors.Is(err, energy.ErrIncompleteOwnership),
		errors.Is(err, energy.ErrInvalidBatteryState):
		return http.StatusConflict, kindConflict
	case errors.Is(err, energy.ErrShareOverflow),
		errors.Is(err, energy.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity, kindOverflow
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, kindUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, kindForbidden
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

func writeEngineError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, kind, message)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
