package middleware

import (
	"net/http"
	"time"

	"loyalty-ledger/internal/metrics"

	"github.com/sirupsen/logrus"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	route  string
	userID string
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Logging logs every request and records its latency by matched route.
func Logging(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			route := sw.route
			if route == "" {
				route = r.Pattern
			}
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)
			metrics.ObserveHTTP(route, sw.status, elapsed)

			entry := log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"route":    route,
				"status":   sw.status,
				"duration": elapsed.String(),
			})
			if sw.userID != "" {
				entry = entry.WithField("user_id", sw.userID)
			}
			switch {
			case sw.status >= 500:
				entry.Error("request failed")
			case sw.status >= 400:
				entry.Info("request rejected")
			default:
				entry.Debug("request served")
			}
		})
	}
}

// Route reports the matched ServeMux pattern and the caller back to Logging. It must
// wrap the mux directly because the mux sets the pattern on the request it receives.
func Route(mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		sw, ok := w.(*statusWriter)
		if !ok {
			return
		}
		sw.route = r.Pattern
		if actor, ok := ActorFrom(r.Context()); ok {
			sw.userID = actor.UserID
		}
	})
}
