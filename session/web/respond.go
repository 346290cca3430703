// ABOUTME: JSON response helpers and the mapping from domain errors to HTTP status codes.
// ABOUTME: Every API error body has the shape {"error": "..."}.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/2389-research/mdsession/agent"
	"github.com/2389-research/mdsession/files"
	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/session/server"
	"github.com/2389-research/mdsession/simconfig"
	"github.com/2389-research/mdsession/supervisor"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps an error to the HTTP status it is reported with.
func statusFor(err error) int {
	var notFound *core.SessionNotFoundError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &notFound), errors.Is(err, core.ErrSessionDeleted):
		return http.StatusNotFound
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, simconfig.ErrLocked),
		errors.Is(err, files.ErrDestinationExists),
		errors.Is(err, agent.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, files.ErrNotFound), errors.Is(err, files.ErrOutsideWorkDir):
		return http.StatusNotFound
	case errors.Is(err, server.ErrInvalidRequest),
		errors.Is(err, simconfig.ErrInvalidConfig),
		errors.Is(err, simconfig.ErrUnknownOption),
		errors.Is(err, simconfig.ErrEmptyPath),
		errors.Is(err, simconfig.ErrInvalidPath),
		errors.Is(err, files.ErrArchivedPath),
		errors.Is(err, supervisor.ErrNotLaunchable):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrSpawnFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrActorBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err with its mapped status. Server errors are logged
// and their detail is not echoed to the client.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("request failed", zap.String("action", "request_failed"), zap.Error(err))
		writeErrorMessage(w, status, "internal server error")
		return
	}
	writeErrorMessage(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body into v. Errors come back wrapped so
// writeError maps them to 400 or 413.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", server.ErrInvalidRequest, err)
	}
	return nil
}
