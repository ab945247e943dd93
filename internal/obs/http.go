package obs

import (
	"net/http"
	"strings"
	"time"
)

// ResponseRecorder tracks response status and bytes written.
type ResponseRecorder struct {
	http.ResponseWriter
	statusCode  int
	respBytes   int64
	wroteHeader bool
}

func (r *ResponseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.statusCode = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *ResponseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.statusCode = http.StatusOK
		r.wroteHeader = true
	}
	n, err := r.ResponseWriter.Write(p)
	r.respBytes += int64(n)
	return n, err
}

func (r *ResponseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *ResponseRecorder) StatusCode() int {
	return r.statusCode
}

func (r *ResponseRecorder) RespBytes() int64 {
	return r.respBytes
}

// NewResponseRecorder wraps a response writer for status/byte accounting.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// RequestContextMiddleware injects a request ID into context and echoes it
// back in the X-Request-Id response header.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set("X-Request-Id", requestID)

		ctx := WithCorrelation(r.Context(), Correlation{RequestID: requestID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLogMiddleware emits one structured access event per request.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := NewResponseRecorder(w)
		next.ServeHTTP(recorder, r)

		reqBytes := int64(0)
		if r.ContentLength > 0 {
			reqBytes = r.ContentLength
		}

		durMS := float64(time.Since(start).Microseconds()) / 1000.0
		From(r.Context()).
			With("pkg", pkg).
			Debug(
				"http_access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.StatusCode(),
				"dur_ms", durMS,
				"req_bytes", reqBytes,
				"resp_bytes", recorder.RespBytes(),
			)
	})
}
