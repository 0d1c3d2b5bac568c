package metrics

import (
	"net/http"
	"time"
)

// StatusClientClosed is recorded for requests whose client went away before
// the handler wrote a response, e.g. an abandoned live history read.
const StatusClientClosed = 499

// HTTPMetricsMiddleware records duration and status class per handler.
// handlerName must be a constant route name, never the raw path, so that
// addresses in the URL do not become label values.
func HTTPMetricsMiddleware(m *Metrics, handlerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			m.RecordHTTPRequest(handlerName, r.Method, rec.status(r), time.Since(start).Seconds())
		})
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	if w.code == 0 {
		w.code = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusRecorder) status(r *http.Request) int {
	if w.code != 0 {
		return w.code
	}
	if r.Context().Err() != nil {
		return StatusClientClosed
	}
	return http.StatusOK
}
