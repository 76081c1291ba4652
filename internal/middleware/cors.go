package middleware

import (
	"github.com/go-chi/cors"
)

// CORS returns cors.Options for the given allowed origins. The mobile app
// does not need CORS; this serves the web dashboard. A "*" origin disables
// credentials since browsers reject the combination.
func CORS(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	allowCreds := true
	for _, o := range allowedOrigins {
		if o == "*" {
			allowCreds = false
			break
		}
	}

	return cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}
}
