package middlewares

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewCorsMw answers preflight requests from browser dashboards.  It should be
// the first middleware in the chain.
func NewCorsMw(origins []string, debug bool) mux.MiddlewareFunc {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Correlation-ID"},
		ExposedHeaders: []string{"X-Txn-ID", "X-Correlation-ID"},
		MaxAge:         600,
		Debug:          debug,
	})

	return c.Handler
}
