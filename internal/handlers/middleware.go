package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"district-insights/internal/services"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// SessionCookie names the cookie carrying the session UUID
const SessionCookie = "district_session"

// RequestIDHeader is echoed back on every response
const RequestIDHeader = "X-Request-ID"

// RequestID tags the request context with the caller's X-Request-ID, or a
// fresh UUID when none was sent
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Instrument records the request count and duration of every routed request
func Instrument(m *metrics.Collector) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			endpoint := routeName(r)
			m.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
			m.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(rec.status))
		})
	}
}

// routeName returns the matched route template so metrics labels stay bounded
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

type sessionHandler func(http.ResponseWriter, *http.Request, *services.Session)

// withSession resolves the session cookie, starting a new session when the
// cookie is missing or expired
func (h *DistrictHandler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(SessionCookie); err == nil {
			id = c.Value
		}

		sess, created, err := h.sessions.GetOrCreate(id)
		if err != nil {
			h.logger.Error(r.Context(), "[SESSION_ERROR] Failed to start session", nil, err)
			h.sendError(w, r, "failed to start session", http.StatusInternalServerError)
			return
		}
		if created {
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    sess.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			h.logger.Debug(r.Context(), "[SESSION_START] New session", logging.Fields{
				"session_id": sess.ID,
			})
		}

		next(w, r.WithContext(sess.Context(r.Context())), sess)
	}
}
