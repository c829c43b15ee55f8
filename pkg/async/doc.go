// Package async runs fire-and-forget background work with a timeout, panic
// recovery and error logging.
//
//	done := async.SafeGo(ctx, 5*time.Second, "broadcast invalidation", logger, func(ctx context.Context) error {
//		return publish(ctx)
//	})
//
// The returned channel closes when the task has finished; most callers ignore
// it.
package async
