// Package middleware provides a composable handler chain for the worker-side
// server. Middlewares wrap the worker dispatch in an onion model:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//
// so A sees every request first and every response last.
package middleware

import (
	"context"

	"github.com/ltfish/pyqode.core/message"
)

// HandlerFunc processes one request envelope and produces the response
// envelope. Transport concerns (framing, sockets) never reach this layer.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

// Middleware wraps a handler with extra behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, applied in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
