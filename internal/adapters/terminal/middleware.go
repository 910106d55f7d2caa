package terminal

import (
	"context"
	"errors"
	"time"

	"github.com/PabloGalante/pocketpal/internal/observability"
)

// withLogging wraps a command and logs every run.
func withLogging(name string, next handlerFunc) handlerFunc {
	return func(ctx context.Context, args []string) error {
		start := time.Now()

		err := next(ctx, args)

		log := observability.LoggerFromContext(ctx).With("command", name, "duration", time.Since(start).String())
		if err != nil && !errors.Is(err, errQuit) {
			log.Debug("command failed", "error", err)
			return err
		}
		log.Debug("command done")
		return err
	}
}

// chain applies multiple middlewares in order; the last one runs first.
func chain(h handlerFunc, middlewares ...func(handlerFunc) handlerFunc) handlerFunc {
	for _, m := range middlewares {
		h = m(h)
	}
	return h
}
