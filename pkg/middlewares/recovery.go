package middlewares

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

type recoveryResponse struct {
	Error string `json:"error"`
	TxnID string `json:"txn_id,omitempty"`
}

// RecoveryMw turns a handler panic into a JSON 500 that names the
// transaction, so the caller can find the stack trace in the log
type RecoveryMw struct {
	next http.Handler
}

func NewRecoveryMw() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return &RecoveryMw{next: next}
	}
}

func (mw *RecoveryMw) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}

		// net/http uses this one to abort a response quietly
		if p == http.ErrAbortHandler {
			panic(p)
		}

		logging.Logger(r.Context()).
			WithField("stack", string(debug.Stack())).
			Errorf("handler panic on %s %s: %v", r.Method, r.URL.Path, p)

		resp := recoveryResponse{Error: "internal error"}
		resp.TxnID, _ = logging.TxnID(r.Context())

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(resp)
	}()

	mw.next.ServeHTTP(rw, r)
}
