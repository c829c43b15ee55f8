package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with its stack. It must be
// called directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "invalidation listener")
//
// The panic is not re-raised.
func RecoverPanic(logger logrus.FieldLogger, context string) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and runs callback
// only if a panic occurred
func RecoverPanicWithCallback(logger logrus.FieldLogger, context string, callback func(r interface{})) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
		if callback != nil {
			callback(r)
		}
	}
}

// MustRecover converts a recovered value to an error; nil stays nil
//
//	defer func() { err = observability.MustRecover(recover()) }()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}

func logPanic(logger logrus.FieldLogger, context string, r interface{}) {
	logger.WithFields(logrus.Fields{
		"panic":   r,
		"stack":   string(debug.Stack()),
		"context": context,
	}).Error("PANIC recovered")
}
