// Package api provides the HTTP servers for SCEMS: the supervisor's
// registration, query and report endpoints, and the worker's task and LTM
// endpoints. Both share the middleware stack and error mapping below.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/infra/metrics"
)

// Roles label request logs and metrics.
const (
	RoleSupervisor = "supervisor"
	RoleWorker     = "worker"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// newRouter builds the chi router shared by both roles.
func newRouter(role string, log zerolog.Logger, metricsEnabled bool) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(requestLogger(role, log))
	r.Use(corsMiddleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// requestLogger logs and counts every request by its route pattern.
func requestLogger(role string, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			path := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				path = rc.RoutePattern()
			}
			d := time.Since(start)
			metrics.RecordHTTPRequest(role, r.Method, path, status, d)

			event := log.Debug()
			if status >= 500 {
				event = log.Error()
			} else if status >= 400 {
				event = log.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", path).
				Int("status", status).
				Dur("duration", d).
				Int("bytes", ww.BytesWritten()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http_request")
		})
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// apiError is the body of every error response.
type apiError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Field       string   `json:"field,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// writeError maps err onto its status code and structured body.
func writeError(w http.ResponseWriter, err error) {
	body := apiError{Code: domain.ErrorCode(err), Message: err.Error()}

	var fe *domain.FieldError
	if errors.As(err, &fe) {
		body.Field = fe.Field
	}
	var nm *domain.NoMatchError
	if errors.As(err, &nm) {
		body.Message = nm.Explanation
		body.Suggestions = nm.Suggestions
	}
	writeJSON(w, statusFor(err), map[string]interface{}{"error": body})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrProtocol),
		errors.Is(err, domain.ErrUnsupportedCapability):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoMatch),
		errors.Is(err, domain.ErrReportNotFound),
		errors.Is(err, domain.ErrAgentNotFound),
		errors.Is(err, domain.ErrUnexpectedReport):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateMessage):
		return http.StatusConflict
	case errors.Is(err, domain.ErrReportPending):
		return http.StatusAccepted
	case errors.Is(err, domain.ErrUnavailableWorker):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, domain.InvalidField("body", err.Error())
	}
	if len(body) > maxRequestBody {
		return nil, domain.InvalidField("body", fmt.Sprintf("exceeds %d bytes", maxRequestBody))
	}
	return body, nil
}

// decodeJSON reads r's body into v. Malformed JSON is a validation error.
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.Invalid("body", "malformed JSON: "+err.Error())
	}
	return nil
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
