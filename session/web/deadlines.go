// ABOUTME: Per-route connection deadlines for requests that outlive the server-wide timeouts.
// ABOUTME: Chat streams and large transfers replace the read and write deadlines set by http.Server.
package web

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server-wide timeouts for ordinary JSON requests.
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 5 * time.Minute
	// uploadTimeout bounds one upload of up to maxUpload bytes.
	uploadTimeout = 30 * time.Minute
)

// withDeadlines replaces the connection deadlines for the routes it wraps.
// A zero duration removes the deadline; the request context still ends the
// handler when the client goes away.
func withDeadlines(logger *zap.Logger, read, write time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := http.NewResponseController(w)
			if err := rc.SetReadDeadline(deadline(read)); err != nil && !errors.Is(err, http.ErrNotSupported) {
				logger.Warn("set read deadline", zap.String("action", "deadline_failed"), zap.Error(err))
			}
			if err := rc.SetWriteDeadline(deadline(write)); err != nil && !errors.Is(err, http.ErrNotSupported) {
				logger.Warn("set write deadline", zap.String("action", "deadline_failed"), zap.Error(err))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
