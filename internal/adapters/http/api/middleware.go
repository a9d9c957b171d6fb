package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/kudos/pkg/metrics"
)

// RequestIDHeader carries the request id in and out of the API.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds a caller supplied request id; longer ids are replaced.
const maxRequestIDLen = 128

type requestIDKey struct{}

// RequestID returns the id MetricsMiddleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// MetricsMiddleware tags each request with an id and records request
// metrics for endpoint. Failed requests are counted under the error code
// the handler answered with.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		statusCodeStr := strconv.Itoa(wrapped.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, statusCodeStr)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, statusCodeStr, durationMs)

		if wrapped.statusCode >= http.StatusBadRequest {
			metrics.RecordErrorByComponent("http_"+endpoint, wrapped.errorType())
		}
	}
}

// responseWriter captures the status code and the error code written by
// writeError.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	errorCode  string
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}

// errorType prefers the API error code; responses written outside
// writeError (mux 404/405, oversized bodies) fall back to the status.
func (rw *responseWriter) errorType() string {
	if rw.errorCode != "" {
		return rw.errorCode
	}
	switch {
	case rw.statusCode >= http.StatusInternalServerError:
		return "internal_error"
	case rw.statusCode == http.StatusTooManyRequests:
		return "backpressure"
	case rw.statusCode == http.StatusNotFound:
		return "not_found"
	case rw.statusCode == http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case rw.statusCode == http.StatusConflict:
		return "conflict"
	default:
		return "bad_request"
	}
}

// noteErrorCode records code on w when it is the middleware's writer.
func noteErrorCode(w http.ResponseWriter, code string) {
	if rw, ok := w.(*responseWriter); ok {
		rw.errorCode = code
	}
}
