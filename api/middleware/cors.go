package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

const corsPreflightMaxAge = 300

func corsOptions(origins []string) cors.Options {
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			allowed = append(allowed, origin)
		}
	}
	if len(allowed) == 0 {
		allowed = []string{"http://localhost:3000"}
	}
	return cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", IdempotencyHeader, RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, ReplayedHeader, "Retry-After"},
		MaxAge:         corsPreflightMaxAge,
	}
}

// CORS applies the browser origin policy. Without configured origins only the local dashboard is allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(corsOptions(origins))
}
