// Package middleware provides the HTTP middleware of the aptix API.
package middleware

import "net/http"

// Stack composes multiple middleware into a single middleware function.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(metrics.Middleware, logging.Handler, security.Handler)
//	server.Handler = stack(mux)
//
// This is equivalent to:
//
//	metrics.Middleware(logging.Handler(security.Handler(mux)))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
