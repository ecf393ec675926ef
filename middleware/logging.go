package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ltfish/pyqode.core/message"
)

// Logging logs every executed request with its worker name, request id,
// duration and status.
func Logging(log logrus.FieldLogger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			log.WithFields(logrus.Fields{
				"request_id": req.RequestID,
				"worker":     req.Worker,
				"duration":   time.Since(start),
				"status":     resp.Status,
			}).Debug("request handled")
			return resp
		}
	}
}
