package cli

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/calvinalkan/recstore/internal/config"
)

// newLogger builds the process logger. With log_file set, JSON lines go to
// a size-rotated file; otherwise human-readable lines go to errOut.
// The returned func flushes and releases the sink.
func newLogger(cfg config.Config, errOut io.Writer) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var (
		core    zapcore.Core
		release = func() {}
	)

	if cfg.LogFileAbs != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.LogFileAbs,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
		}
		release = func() { _ = sink.Close() }

		core = zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(sink),
			level,
		)
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.TimeKey = ""

		core = zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(errOut),
			level,
		)
	}

	logger := zap.New(core)

	return logger, func() {
		_ = logger.Sync()
		release()
	}, nil
}
