package middlewares

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

// bodies are logged up to this many bytes per read or write
const maxLoggedBody = 1024

func clip(b []byte) []byte {
	if len(b) > maxLoggedBody {
		return b[:maxLoggedBody]
	}
	return b
}

// statusRecorder captures what the handler sent for the audit line
type statusRecorder struct {
	http.ResponseWriter

	ctx         context.Context
	status      int
	size        int
	logBodies   bool
	wroteHeader bool
}

func (rec *statusRecorder) WriteHeader(status int) {
	if !rec.wroteHeader {
		rec.status = status
		rec.wroteHeader = true
		if rec.logBodies {
			logging.Logger(rec.ctx).Debugf("response headers: %+v", rec.Header())
		}
	}
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}

	n, err := rec.ResponseWriter.Write(b)
	rec.size += n

	if rec.logBodies && n > 0 {
		logging.Logger(rec.ctx).Debugf("response body (%d bytes): %s", n, clip(b[:n]))
	}
	return n, err
}

// bodyLogger logs a request body as the handler consumes it
type bodyLogger struct {
	io.ReadCloser
	ctx context.Context
}

func (bl bodyLogger) Read(b []byte) (int, error) {
	n, err := bl.ReadCloser.Read(b)
	if n > 0 {
		logging.Logger(bl.ctx).Debugf("request body (%d bytes): %s", n, clip(b[:n]))
	}
	return n, err
}

// LoggingMw tags each request with a transaction ID and writes one audit
// line per request.  Successful requests to a quiet path, such as a health
// probe, are audited at debug level.
type LoggingMw struct {
	logBodies bool
	quiet     map[string]bool
	next      http.Handler
}

func NewLoggingMw(logBodies bool, quietPaths ...string) mux.MiddlewareFunc {
	quiet := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return &LoggingMw{logBodies: logBodies, quiet: quiet, next: next}
	}
}

func (mw *LoggingMw) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	txnID := uuid.NewString()
	start := time.Now()

	// before any handler gets to write a body
	rw.Header().Set("X-Txn-ID", txnID)

	ctx := logging.WithTxnID(r.Context(), txnID)
	r = r.WithContext(ctx)

	if mw.logBodies {
		logging.Logger(ctx).Debugf("request headers: %+v", r.Header)
		if r.Body != nil {
			r.Body = bodyLogger{ReadCloser: r.Body, ctx: ctx}
		}
	}

	rec := &statusRecorder{ResponseWriter: rw, ctx: ctx, status: http.StatusOK, logBodies: mw.logBodies}
	mw.next.ServeHTTP(rec, r)

	entry := logging.Logger(ctx).WithFields(logrus.Fields{
		"entrytype": "audit",
		"status":    rec.status,
		"method":    r.Method,
		"path":      r.URL.Path,
		"remote":    r.RemoteAddr,
		"duration":  time.Since(start),
		"size":      rec.size,
	})

	switch {
	case rec.status >= http.StatusInternalServerError:
		entry.Warn(http.StatusText(rec.status))
	case mw.quiet[r.URL.Path] && rec.status < http.StatusBadRequest:
		entry.Debug(http.StatusText(rec.status))
	default:
		entry.Info(http.StatusText(rec.status))
	}
}
