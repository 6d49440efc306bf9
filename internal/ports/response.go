package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/reporting"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Cause     string `json:"cause"`
	Retryable bool   `json:"retryable"`
}

func writeJSONResponse(ctx context.Context, w http.ResponseWriter, statusCode int, response any) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "Failed to marshal response", "error", err)
		reporting.Report(ctx, fmt.Errorf("failed to marshal response: %w", err))

		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "Failed to write response", "error", err)
	}
}

func writeErrorResponse(ctx context.Context, w http.ResponseWriter, statusCode int, cause string, retryable bool) {
	writeJSONResponse(ctx, w, statusCode, errorResponse{
		Success:   false,
		Cause:     cause,
		Retryable: retryable,
	})
}
