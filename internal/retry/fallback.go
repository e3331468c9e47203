package retry

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Fallback is an alternative way to produce a value once the primary
// operation has given up.
type Fallback[T any] struct {
	Name string
	Fn   func(ctx context.Context) (T, error)
}

// RunWithFallback runs fn under s and, if it fails for any reason other than
// the caller's context ending, tries each fallback in order. The first
// success wins. When everything fails the primary error is returned joined
// with the fallback errors.
func RunWithFallback[T any](ctx context.Context, s *Strategy, op string, fn func(ctx context.Context, attempt int) (T, error), fallbacks ...Fallback[T]) (T, int, error) {
	v, attempts, err := Run(ctx, s, op, fn)
	if err == nil || ctx.Err() != nil || len(fallbacks) == 0 {
		return v, attempts, err
	}

	errs := []error{err}
	for _, fb := range fallbacks {
		s.logger.Info("trying fallback",
			zap.String("op", op),
			zap.String("fallback", fb.Name),
			zap.Error(err),
		)
		fv, ferr := fb.Fn(ctx)
		if ferr == nil {
			return fv, attempts, nil
		}
		errs = append(errs, ferr)
		if ctx.Err() != nil {
			break
		}
	}
	var zero T
	return zero, attempts, errors.Join(errs...)
}
