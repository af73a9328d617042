package internal

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PanicError is returned by Go when fn panicked.
type PanicError struct {
	Name  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Name, e.Value)
}

// Go wraps errgroup.Go with panic recovery. If fn panics, the panic is logged
// with its stack, counted in PanicsRecovered and returned as a *PanicError.
func Go(g *errgroup.Group, logger *zap.Logger, name string, fn func() error) {
	g.Go(func() error {
		return Protect(logger, name, fn)
	})
}

// Protect runs fn on the calling goroutine with the same recovery as Go.
func Protect(logger *zap.Logger, name string, fn func() error) (err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defer func() {
		if r := recover(); r != nil {
			PanicsRecovered.WithLabelValues(name).Inc()
			logger.Error("panic recovered",
				zap.String("component", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = &PanicError{Name: name, Value: r}
		}
	}()
	return fn()
}
