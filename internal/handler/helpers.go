package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/frauddetection/fraudwatch-go/internal/domain"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var validation *domain.ErrValidation
	var auth *domain.ErrAuthFailed
	var fetch *domain.ErrFetchFailed

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &auth):
		logger.Error("authentication failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &fetch):
		logger.Error("upstream fetch failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
