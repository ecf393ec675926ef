package middleware

import (
	"context"
	"time"

	"github.com/ltfish/pyqode.core/message"
)

// Timeout bounds a worker's execution time. A worker that overruns gets a
// status=false response; its goroutine keeps running until it returns on
// its own, since Go offers no way to kill it.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.Response{
					Status:  false,
					Results: "worker execution timed out",
				}
			}
		}
	}
}
