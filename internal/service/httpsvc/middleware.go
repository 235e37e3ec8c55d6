package httpsvc

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const requestIDHeader = "X-Request-ID"

type loggerKey struct{}

// loggerFrom возвращает логгер запроса с request_id или fallback.
func loggerFrom(ctx context.Context, fallback *log.Entry) *log.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*log.Entry); ok && entry != nil {
		return entry
	}
	return fallback
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (h *Handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		entry := h.logger.WithField("request_id", requestID)
		ctx := context.WithValue(r.Context(), loggerKey{}, entry)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

func (h *Handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := h.now()
		rec := &statusRecorder{ResponseWriter: w}
		logger := loggerFrom(r.Context(), h.logger)

		defer func() {
			if p := recover(); p != nil {
				logger.WithField("panic", p).Error("http handler panic")
				if rec.status == 0 {
					writeJSON(rec, http.StatusInternalServerError, errorBody{Error: internalErrorMessage, Code: codeOperational})
				}
			}

			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"bytes":       rec.bytes,
				"duration_ms": time.Since(started).Milliseconds(),
			})
			if rec.status >= http.StatusInternalServerError {
				entry.Warn("http request")
			} else {
				entry.Debug("http request")
			}
		}()

		next.ServeHTTP(rec, r)
	})
}
