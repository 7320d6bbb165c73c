package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var corsAllowHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

var corsHandler = cors.Handler(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	AllowedHeaders: corsAllowHeaders,
	MaxAge:         300,
})

// CORS allows any origin. The web app, the mobile view and the capture helper
// all call the API from different origins and authenticate with bearer tokens,
// never cookies. OPTIONS requests that are not preflights still get a 200.
func CORS(next http.Handler) http.Handler {
	return corsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	}))
}
