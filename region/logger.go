package region

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	logger atomic.Pointer[zap.Logger]
	nop    = zap.NewNop()
)

// Logger returns the region package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return nop
}

// SetLogger configures the region package's logger. kernel.New installs a
// child of the kernel logger here, so every region logs under the most
// recently created kernel.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}
