package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/ltfish/pyqode.core/message"
)

// RateLimit rejects requests above the given rate with a status=false
// response, using a token bucket. A misbehaving frontend flooding the
// backend degrades into fast failures instead of a request pileup.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return &message.Response{
					Status:  false,
					Results: "rate limit exceeded",
				}
			}
			return next(ctx, req)
		}
	}
}
