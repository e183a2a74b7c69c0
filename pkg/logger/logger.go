package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.Mutex
	sugar   *zap.SugaredLogger
	logFile *lumberjack.Logger
)

const (
	INFO = iota
	DEBUG
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func zapLevel(level int) zapcore.Level {
	if level == DEBUG {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// InitLogger writes to stdout and, when filename is set, to a rotated log file.
func InitLogger(filename string, level int) error {
	mu.Lock()
	defer mu.Unlock()

	lvl := zapLevel(level)
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(os.Stdout), lvl),
	}
	if filename != "" {
		logFile = &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    100,
			MaxBackups: 5,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(logFile), lvl))
	}

	sugar = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return nil
}

// Close flushes buffered entries and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		_ = sugar.Sync()
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// Init sets up console-only logging at info level.
func Init() {
	_ = InitLogger("", INFO)
}

// SetLogger replaces the process logger, used by tests to capture output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	sugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func get() *zap.SugaredLogger {
	mu.Lock()
	s := sugar
	mu.Unlock()
	if s == nil {
		Init()
		mu.Lock()
		s = sugar
		mu.Unlock()
	}
	return s
}

func Info(format string, v ...interface{}) {
	get().Infof(format, v...)
}

func Infof(format string, v ...interface{}) {
	get().Infof(format, v...)
}

func Debugf(format string, v ...interface{}) {
	get().Debugf(format, v...)
}

func Error(format string, v ...interface{}) {
	get().Errorf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	get().Errorf(format, v...)
}

func Warn(format string, v ...interface{}) {
	get().Warnf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	get().Warnf(format, v...)
}
