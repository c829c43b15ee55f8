package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo runs fn in a goroutine bounded by timeout, recovering panics and
// logging errors instead of propagating them. parentCtx supplies values only;
// its cancellation does not stop the task, so work started by a request
// outlives the request.
//
//	async.SafeGo(ctx, 5*time.Second, "broadcast invalidation", logger, func(ctx context.Context) error {
//		return broadcaster.Publish(ctx, false, ids...)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger logrus.FieldLogger, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("PANIC in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
	return done
}
