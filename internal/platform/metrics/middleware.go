package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestMiddleware returns chi-compatible middleware that counts admin
// requests and error responses (status >= 400). A nil m counts nothing.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrap, r)
			m.IncRequests()
			if wrap.Status() >= http.StatusBadRequest {
				m.IncErrors()
			}
		})
	}
}
