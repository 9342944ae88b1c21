// Package logging builds the process-wide zap.Logger, writing JSON
// entries to a rotated file via lumberjack and, when Options.Console is
// set or no file path is given, to the console on stderr.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger. An empty FilePath means stderr only.
type Options struct {
	FilePath   string
	Level      string // debug, info, warn, error
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool
}

func (o Options) withDefaults() Options {
	if o.Level == "" {
		o.Level = "info"
	}
	if o.MaxSizeMB == 0 {
		o.MaxSizeMB = 50
	}
	if o.MaxBackups == 0 {
		o.MaxBackups = 5
	}
	if o.MaxAgeDays == 0 {
		o.MaxAgeDays = 28
	}
	return o
}

// New builds a zap.Logger per Options. Callers own the returned
// logger's lifetime and should call Sync before exit.
func New(opts Options) (*zap.Logger, error) {
	opts = opts.withDefaults()

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(encoderCfg)

	var cores []zapcore.Core
	if opts.FilePath != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(jsonEncoder, fileWriter, atomicLevel))
	}
	if opts.Console || opts.FilePath == "" {
		consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
		consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderCfg)
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), atomicLevel))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
