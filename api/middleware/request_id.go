package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/parkez/parkez-backend/api/responses"
	"github.com/parkez/parkez-backend/pkg/logger"
)

const maxInboundRequestID = 64

// RequestID reuses a well-formed id from an upstream proxy, otherwise mints a
// UUID. The id is put on the response headers before the handler runs.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(responses.RequestIDHeader)
			if !validRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(responses.RequestIDHeader, id)
			if logg != nil {
				r = r.WithContext(logg.WithRequestID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// validRequestID accepts ids of printable ASCII without spaces, so a client
// cannot inject log-breaking characters.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxInboundRequestID {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
