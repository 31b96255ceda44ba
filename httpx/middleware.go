package httpx

import (
	"net/http"
)

// WrapHTTPMiddleware bridges a net/http middleware into the echo chain. The
// wrapped handler sees the request produced by mw, including any context
// values it injected.
func WrapHTTPMiddleware(mw func(http.Handler) http.Handler) MiddlewareFunc {
	if mw == nil {
		return func(next HandlerFunc) HandlerFunc {
			return func(c Context) error {
				return HTTPError(StatusUnauthorized, "auth middleware missing")
			}
		}
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			var nextErr error
			downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c.SetRequest(r)
				nextErr = next(c)
			})
			mw(downstream).ServeHTTP(c.Response(), c.Request())
			return nextErr
		}
	}
}
