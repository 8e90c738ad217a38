package core

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"turfwatch/internal/types"
)

// statusRecorder wraps an http.ResponseWriter so middleware running after the
// handler chain can observe the status code that was sent.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.status = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write records an implicit 200 when the handler never calls WriteHeader.
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.wroteHeader {
		sr.status = http.StatusOK
		sr.wroteHeader = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Recoverer converts handler panics into a JSON 500 carrying the request ID.
// It must sit outermost in the chain. http.ErrAbortHandler is re-raised
// untouched since net/http uses it to abort in-flight responses.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if err, ok := rvr.(error); ok && err == http.ErrAbortHandler {
				panic(rvr)
			}

			s.Logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("panic", rvr),
				slog.String("stack", string(debug.Stack())),
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			// The body is assembled by hand: calling json.Marshal inside a
			// recovery path risks a second panic with no one left to catch it.
			_, _ = w.Write(panicResponseBody(types.GetRequestID(r.Context())))
		}()

		next.ServeHTTP(w, r)
	})
}

// panicResponseBody renders the standard error envelope for a recovered
// panic without going through encoding/json.
func panicResponseBody(requestID string) []byte {
	var b strings.Builder
	b.WriteString(`{"error":{"code":"`)
	b.WriteString(string(types.ErrCodeInternalUnexpected))
	b.WriteString(`","message":"an unexpected error occurred","request_id":"`)
	appendJSONEscaped(&b, requestID)
	b.WriteString(`"}}`)
	return []byte(b.String())
}

// appendJSONEscaped writes s into b with the escapes needed to keep the
// surrounding JSON string literal valid. Request IDs are UUIDs in practice,
// but the value echoes a client header and cannot be trusted.
func appendJSONEscaped(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				// Remaining control characters are dropped rather than
				// encoded; they never appear in legitimate request IDs.
				continue
			}
			b.WriteRune(r)
		}
	}
}

// RequestLogger emits one structured line per request: method, path, status,
// duration, and the request headers with values in redactedHeaders masked.
// 5xx responses log at ERROR, 4xx at WARN, everything else at INFO.
func RequestLogger(logger *slog.Logger, redactedHeaders []string) func(http.Handler) http.Handler {
	redacted := make(map[string]struct{}, len(redactedHeaders))
	for _, h := range redactedHeaders {
		redacted[strings.ToLower(h)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			attrs := make([]slog.Attr, 0, 8)
			attrs = append(attrs,
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sr.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
			if reqID := types.GetRequestID(r.Context()); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			if ha := headerAttrs(r.Header, redacted); len(ha) > 0 {
				attrs = append(attrs, slog.Group("headers", ha...))
			}

			level := slog.LevelInfo
			switch {
			case sr.status >= 500:
				level = slog.LevelError
			case sr.status >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request completed", attrs...)
		})
	}
}

// headerAttrs flattens request headers into slog group members, masking any
// header whose lowercased name appears in redacted. API keys arrive in the
// Authorization header; logging them would put secrets in CloudWatch.
func headerAttrs(header http.Header, redacted map[string]struct{}) []any {
	out := make([]any, 0, len(header))
	for name, values := range header {
		if _, mask := redacted[strings.ToLower(name)]; mask {
			out = append(out, slog.String(name, "[REDACTED]"))
			continue
		}
		out = append(out, slog.String(name, strings.Join(values, ", ")))
	}
	return out
}

// MetricsMiddleware reports latency and count for each request through the
// server's collector. The chi route pattern is preferred over the raw URL
// path so lawn IDs and other parameters do not explode the CloudWatch
// dimension cardinality. A nil collector disables recording.
func (s *Server) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sr, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}

		s.Metrics.RecordRequest(r.Method, endpoint, strconv.Itoa(sr.status), time.Since(start))
	})
}

// SecurityHeadersMiddleware stamps baseline security headers on every
// response, including error responses produced further down the chain.
func (s *Server) SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		next.ServeHTTP(w, r)
	})
}

// NewCORSMiddleware builds the CORS layer from the configured origin list.
// A "*" entry allows any origin. Preflight OPTIONS requests are answered
// directly with 204. Credentials are never allowed; clients authenticate
// with an Authorization header, not cookies.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	exact := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		exact[o] = struct{}{}
	}

	resolve := func(origin string) string {
		if allowAll {
			return "*"
		}
		if origin == "" {
			return ""
		}
		if _, ok := exact[origin]; ok {
			return origin
		}
		return ""
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowed := resolve(r.Header.Get("Origin")); allowed != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowed)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
				h.Set("Access-Control-Expose-Headers", "X-Request-Id")
				h.Set("Access-Control-Max-Age", "86400")
				if allowed != "*" {
					// Per-origin responses must not be cached across origins.
					h.Set("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
