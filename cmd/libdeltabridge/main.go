// Command libdeltabridge builds the bridge as a C shared library:
//
//	go build -buildmode=c-shared -o libdeltabridge.so ./cmd/libdeltabridge
//
// Tables are addressed by URI. The library serves memory:// tables from an
// in-process engine; they are created with memory_table_seed.
package main

/*
#cgo CFLAGS: -I${SRCDIR}
#include "bridge.h"
*/
import "C"

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isar-aerospace/delta-dotnet/delta"
	"github.com/isar-aerospace/delta-dotnet/engine"
	"github.com/isar-aerospace/delta-dotnet/engine/memengine"
)

// LogLevelEnv selects the level of the library logger. Logging is off when
// it is unset.
const LogLevelEnv = "DELTABRIDGE_LOG_LEVEL"

var memory = memengine.New()

func init() {
	memory.Register(engine.DefaultRouter())
	delta.SetLogger(newLogger(os.Getenv(LogLevelEnv)))
}

func newLogger(level string) *zap.Logger {
	if level == "" {
		return zap.NewNop()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build(zap.Fields(zap.String("component", "libdeltabridge")))
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {}
