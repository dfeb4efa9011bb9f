// Package logger wires the process-wide zap logger.  Output always goes to
// a rotating file under <root>/log/platformx.log (lumberjack keeps seven
// compressed generations), and tees to stdout in development mode so local
// runs stay readable.  Init replaces zap's globals, so the rest of the
// codebase logs through zap.L() / zap.S().
package logger

import (
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init builds the logger and installs it globally.  The returned function
// flushes buffered entries; call it on shutdown.
func Init(rootDir string, development bool) (func(), error) {
	logDir := filepath.Join(rootDir, "log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	fileSink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, "platformx.log"),
		MaxSize:    50, // MB
		MaxBackups: 7,
		MaxAge:     28, // days
		Compress:   true,
	})

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.InfoLevel
	if development {
		level = zap.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileSink, level),
	}
	if development {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(os.Stdout),
			level,
		))
	}

	lg := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	undo := zap.ReplaceGlobals(lg)

	return func() {
		_ = lg.Sync()
		undo()
	}, nil
}
