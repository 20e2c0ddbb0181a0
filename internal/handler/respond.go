package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
)

func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Logger.Warnw("encode response", "error", err)
	}
}

func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a service error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case appErrors.IsNotFound(err), appErrors.Is(err, appErrors.ErrJobNotFound):
		return http.StatusNotFound
	case appErrors.IsInvalidTransition(err):
		return http.StatusConflict
	case appErrors.IsValidation(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondServiceError writes err with the status StatusFor picks. Internal
// errors are logged and their text is not returned to the client.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		RespondError(w, status, "internal error")
		return
	}
	body := map[string]string{"error": err.Error()}
	if hint := appErrors.FlattenHints(err); hint != "" {
		body["hint"] = hint
	}
	RespondJSON(w, status, body)
}

// QueryInt reads a positive integer query parameter, falling back to def.
func QueryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return def
	}
	return v
}
