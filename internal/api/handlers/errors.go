package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"skylark/internal/core/collect"
	"skylark/internal/core/engine"
	"skylark/internal/core/posts"
	"skylark/internal/keyset"
	"skylark/internal/providers"
	"skylark/internal/timeutil"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, statusCode int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(errorResponse{
		Error:   errorType,
		Message: message,
	}); err != nil {
		log.Printf("Failed to encode error response: %v", err)
	}
}

// writeJSON writes a success response
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are already sent, so only log
		log.Printf("Failed to encode response: %v", err)
	}
}

// handleServiceError maps engine and provider errors to HTTP responses
func handleServiceError(w http.ResponseWriter, err error) {
	var rateErr *providers.RateLimitedError

	switch {
	case errors.Is(err, engine.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "NotConfigured",
			"No database is configured")

	case errors.Is(err, engine.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, "NotImplemented", err.Error())

	case errors.Is(err, providers.ErrNotRegistered):
		writeError(w, http.StatusNotFound, "ProviderNotFound", err.Error())

	case errors.Is(err, collect.ErrInvalidArgument),
		errors.Is(err, keyset.ErrInvalidToken),
		errors.Is(err, timeutil.ErrInvalidTimestamp),
		posts.IsValidationError(err):
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())

	case providers.IsInvalidQuery(err):
		writeError(w, http.StatusBadRequest, "InvalidQuery", err.Error())

	case providers.IsAuth(err):
		writeError(w, http.StatusUnauthorized, "AuthenticationFailed", err.Error())

	case errors.As(err, &rateErr):
		if rateErr.RetryAfterS != nil {
			w.Header().Set("Retry-After", strconv.Itoa(*rateErr.RetryAfterS))
		}
		writeError(w, http.StatusTooManyRequests, "RateLimitExceeded", err.Error())

	case providers.IsNetwork(err):
		writeError(w, http.StatusBadGateway, "UpstreamUnavailable", err.Error())

	case providers.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "ProviderUnavailable", err.Error())

	case posts.IsNotFound(err):
		writeError(w, http.StatusNotFound, "NotFound", err.Error())

	default:
		// Don't leak internal error details to clients
		log.Printf("Unexpected error in API handler: %v", err)
		writeError(w, http.StatusInternalServerError, "InternalServerError",
			"An internal error occurred")
	}
}
