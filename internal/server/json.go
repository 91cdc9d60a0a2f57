package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/canyapan/fxsync/internal/errs"
)

const (
	messageUnmanaged = "A server-side error occurred. Please reach out to the application support team if this issue persists."
	messageNotFound  = "Requested content not found."
	messageRateFetch = "Failed to fetch fx rates."
	messageS4Update  = "Exchange rate couldn't be updated on S/4HANA."
)

// ErrorResponse is the JSON body of every error answer.
type ErrorResponse struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeJSONError writes an ErrorResponse whose reason is the status text.
func writeJSONError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	writeJSON(ctx, w, ErrorResponse{Reason: http.StatusText(status), Message: message}, status)
}

// writeError maps err to a status and a client-safe message. 4xx are logged
// as warnings, everything else as errors.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, message := http.StatusInternalServerError, messageUnmanaged

	var ie *errs.IntegrationError
	if errors.As(err, &ie) {
		switch ie.Kind {
		case errs.KindInvalidInput:
			status, message = http.StatusBadRequest, ie.Error()
			if ie.Err != nil {
				message = ie.Err.Error()
			}
		case errs.KindRateUnavailable:
			message = messageRateFetch
		case errs.KindCredentialUnavailable, errs.KindDownstreamRejected, errs.KindDownstreamFailed:
			message = messageS4Update
		}
	}

	if status < http.StatusInternalServerError {
		slog.WarnContext(ctx, "a client-side error occurred", "error", err)
	} else {
		slog.ErrorContext(ctx, "a server-side error occurred", "error", err)
	}

	writeJSONError(ctx, w, status, message)
}
