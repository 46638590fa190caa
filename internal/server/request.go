package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ricesearch/mcqa/internal/pkg/logger"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware reuses the caller's request ID or generates one,
// echoes it in the response and stores it as the run ID for logging.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithRunID(r.Context(), id)))
	})
}

// GenerateRequestID returns a random request ID.
func GenerateRequestID() string {
	return uuid.NewString()
}
