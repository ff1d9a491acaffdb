package shield

import "net/http"

// MaxBody returns middleware that caps the request body size. The admin
// endpoints accept small JSON payloads; anything larger is a mistake or
// abuse and gets cut off at the reader.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength != 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
