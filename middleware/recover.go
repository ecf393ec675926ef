package middleware

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ltfish/pyqode.core/message"
)

// Recover converts a worker panic into a status=false response instead of
// letting it kill the whole backend process. The round trip still succeeds;
// the failure travels in the envelope.
func Recover(log logrus.FieldLogger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logrus.Fields{
						"request_id": req.RequestID,
						"worker":     req.Worker,
					}).Errorf("worker panicked: %v", r)
					resp = &message.Response{
						Status:  false,
						Results: fmt.Sprintf("worker %s panicked: %v", req.Worker, r),
					}
				}
			}()
			return next(ctx, req)
		}
	}
}
