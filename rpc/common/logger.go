package common

import (
	"strings"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Names of the package level loggers used by the client
var LoggerNames = []string{"client", "transport", "listener", "topology", "testserver"}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger on top of zap)
// --------------------------------------------------------------------------

// hotrodLogger implements the ILogger interface, filtering by level before handing off to zap
type hotrodLogger struct {
	mu    sync.RWMutex
	name  string
	level logger.LogLevel
	log   *zap.SugaredLogger
}

func (l *hotrodLogger) SetLevel(level logger.LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// at returns the zap logger if level is enabled, nil otherwise
func (l *hotrodLogger) at(level logger.LogLevel) *zap.SugaredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.level < level {
		return nil
	}
	return l.log
}

func (l *hotrodLogger) rebase(base *zap.Logger) {
	l.mu.Lock()
	l.log = base.Named(l.name).Sugar()
	l.mu.Unlock()
}

func (l *hotrodLogger) Debugf(format string, args ...interface{}) {
	if log := l.at(logger.DEBUG); log != nil {
		log.Debugf(format, args...)
	}
}

func (l *hotrodLogger) Infof(format string, args ...interface{}) {
	if log := l.at(logger.INFO); log != nil {
		log.Infof(format, args...)
	}
}

func (l *hotrodLogger) Warningf(format string, args ...interface{}) {
	if log := l.at(logger.WARNING); log != nil {
		log.Warnf(format, args...)
	}
}

func (l *hotrodLogger) Errorf(format string, args ...interface{}) {
	if log := l.at(logger.ERROR); log != nil {
		log.Errorf(format, args...)
	}
}

func (l *hotrodLogger) Panicf(format string, args ...interface{}) {
	l.mu.RLock()
	log := l.log
	l.mu.RUnlock()
	log.Panicf(format, args...)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var (
	baseMu  sync.Mutex
	baseLog = newZapLogger("console")
	created []*hotrodLogger

	// dragonboat panics when its factory is replaced
	installFactory sync.Once
)

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	baseMu.Lock()
	defer baseMu.Unlock()
	l := &hotrodLogger{
		name:  pkgName,
		level: logger.INFO,
		log:   baseLog.Named(pkgName).Sugar(),
	}
	created = append(created, l)
	return l
}

// newZapLogger builds the zap logger all package loggers are derived from.
// Level filtering happens in hotrodLogger, so zap itself accepts everything.
func newZapLogger(encoding string) *zap.Logger {
	encoderConf := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	conf := zap.Config{
		Level:             zap.NewAtomicLevelAt(zapcore.DebugLevel),
		Encoding:          encoding,
		EncoderConfig:     encoderConf,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     true,
		DisableStacktrace: true,
	}
	l, err := conf.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000000"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, errors.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers installs the zap backed factory and sets the level of all client loggers.
// It may be called again to change the level or format, loggers created by an earlier call
// switch to the new format.
func InitLoggers(level string, format string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "console"
	}
	if format != "console" && format != "json" {
		return errors.Errorf("log format must be one of 'console' or 'json', got %q", format)
	}

	baseMu.Lock()
	baseLog = newZapLogger(format)
	for _, l := range created {
		l.rebase(baseLog)
	}
	baseMu.Unlock()

	installFactory.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})
	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
