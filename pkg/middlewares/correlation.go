package middlewares

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

var correlationIDRegexp = regexp.MustCompile(`^[\w-]{3,64}$`)

// CorrelationMw echoes the caller's correlation ID, issuing a fresh one when
// the header is missing or malformed, and tags the request's log lines with it
type CorrelationMw struct {
	header string
	next   http.Handler
}

func NewCorrelationMw(header string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return &CorrelationMw{header: http.CanonicalHeaderKey(header), next: next}
	}
}

func (mw *CorrelationMw) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(mw.header)

	if !correlationIDRegexp.MatchString(id) {
		if id != "" {
			logging.Logger(r.Context()).Warnf("replacing malformed %s `%.64s`", mw.header, id)
		}
		id = uuid.NewString()
	}

	rw.Header().Set(mw.header, id)
	mw.next.ServeHTTP(rw, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
}
