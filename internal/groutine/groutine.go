// Package groutine starts named goroutines so actors and radio pumps show up
// labelled in pprof goroutine dumps and in logs.
package groutine

import (
	"context"
	"runtime/debug"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine carrying a pprof "goroutine_name" label.
// A panic inside fn is logged through logger (or the logrus standard logger when nil)
// and does not crash the process.
//
//	groutine.Go(ctx, "device-AA:BB", logger, func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, logger *logrus.Logger, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				entry := logrus.NewEntry(logrus.StandardLogger())
				if logger != nil {
					entry = logrus.NewEntry(logger)
				}
				entry.WithFields(logrus.Fields{
					"goroutine_name": name,
					"panic":          r,
					"stack":          string(debug.Stack()),
				}).Error("Goroutine panicked")
			}
		}()

		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
