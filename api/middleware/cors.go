package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

var devOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

const corsPreflightCache = 5 * time.Minute

// CORS allows browser calls from origins. With no origins configured, the
// local dev servers are allowed outside production and nothing is allowed in it.
func CORS(origins []string, prod bool) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			idempotencyHeader,
			requestIDHeader,
		},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           int(corsPreflightCache.Seconds()),
	}
	if len(origins) == 0 {
		if prod {
			// go-chi/cors treats an empty list as allow-all.
			opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
		} else {
			opts.AllowedOrigins = devOrigins
		}
	}
	return cors.New(opts).Handler
}
