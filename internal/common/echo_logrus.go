package common

import (
	"context"
	"encoding/json"
	"io"
	"runtime"

	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"
)

// EchoLogrusLogger lets the bus server log through the process-wide logrus
// logger while keeping the request context (and so the operation id).
type EchoLogrusLogger struct {
	*logrus.Logger
	Ctx context.Context
}

const loggingFrameKey ctxKey = "loggingFrame"

var commonLogger = &EchoLogrusLogger{
	Logger: logrus.StandardLogger(),
	Ctx:    context.Background(),
}

func Logger() *EchoLogrusLogger {
	return commonLogger
}

func NewEchoLogrusLogger(logger *logrus.Logger, ctx context.Context) *EchoLogrusLogger {
	return &EchoLogrusLogger{
		Logger: logger,
		Ctx:    ctx,
	}
}

func toEchoLevel(level logrus.Level) log.Lvl {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return log.DEBUG
	case logrus.InfoLevel:
		return log.INFO
	case logrus.WarnLevel:
		return log.WARN
	case logrus.ErrorLevel:
		return log.ERROR
	}

	return log.OFF
}

// logWithCaller records the frame of the code calling the echo logger,
// logrus would otherwise report this file as the caller.
func (l *EchoLogrusLogger) logWithCaller() *logrus.Entry {
	rpc := make([]uintptr, 1)
	// always 3 frames below the calling context
	n := runtime.Callers(3, rpc[:])
	if n < 1 {
		return l.Logger.WithContext(l.Ctx)
	}
	frame, _ := runtime.CallersFrames(rpc).Next()
	return l.Logger.WithContext(context.WithValue(l.Ctx, loggingFrameKey, frame))
}

type ctxHook struct {
}

func (h *ctxHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *ctxHook) Fire(e *logrus.Entry) error {
	if e.Context == nil {
		return nil
	}
	if frame, ok := e.Context.Value(loggingFrameKey).(runtime.Frame); ok {
		e.Caller = &frame
	}
	if oid, ok := e.Context.Value(operationIDKeyCtx).(string); ok {
		e.Data[OperationIDKey] = oid
	}
	return nil
}

func init() {
	commonLogger.Logger.AddHook(&ctxHook{})
}

func (l *EchoLogrusLogger) Output() io.Writer {
	return l.Out
}

func (l *EchoLogrusLogger) SetOutput(w io.Writer) {
	// the global logger is configured once at startup
}

func (l *EchoLogrusLogger) Level() log.Lvl {
	return toEchoLevel(l.Logger.Level)
}

func (l *EchoLogrusLogger) SetLevel(v log.Lvl) {
	// the global logger is configured once at startup
}

func (l *EchoLogrusLogger) SetHeader(h string) {
}

func (l *EchoLogrusLogger) Prefix() string {
	return ""
}

func (l *EchoLogrusLogger) SetPrefix(p string) {
}

func (l *EchoLogrusLogger) Print(i ...interface{}) {
	l.logWithCaller().Print(i...)
}

func (l *EchoLogrusLogger) Printf(format string, args ...interface{}) {
	l.logWithCaller().Printf(format, args...)
}

func (l *EchoLogrusLogger) Printj(j log.JSON) {
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	l.logWithCaller().Println(string(b))
}

func (l *EchoLogrusLogger) Debug(i ...interface{}) {
	l.logWithCaller().Debug(i...)
}

func (l *EchoLogrusLogger) Debugf(format string, args ...interface{}) {
	l.logWithCaller().Debugf(format, args...)
}

func (l *EchoLogrusLogger) Debugj(j log.JSON) {
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	l.logWithCaller().Debugln(string(b))
}

func (l *EchoLogrusLogger) Info(i ...interface{}) {
	l.logWithCaller().Info(i...)
}

func (l *EchoLogrusLogger) Infof(format string, args ...interface{}) {
	l.logWithCaller().Infof(format, args...)
}

func (l *EchoLogrusLogger) Infoj(j log.JSON) {
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	l.logWithCaller().Infoln(string(b))
}

func (l *EchoLogrusLogger) Warn(i ...interface{}) {
	l.logWithCaller().Warn(i...)
}

func (l *EchoLogrusLogger) Warnf(format string, args ...interface{}) {
	l.logWithCaller().Warnf(format, args...)
}

func (l *EchoLogrusLogger) Warnj(j log.JSON) {
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	l.logWithCaller().Warnln(string(b))
}

func (l *EchoLogrusLogger) Error(i ...interface{}) {
	l.logWithCaller().Error(i...)
}

func (l *EchoLogrusLogger) Errorf(format string, args ...interface{}) {
	l.logWithCaller().Errorf(format, args...)
}

func (l *EchoLogrusLogger) Errorj(j log.JSON) {
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	l.logWithCaller().Errorln(string(b))
}

func (l *EchoLogrusLogger) Fatal(i ...interface{}) {
	l.logWithCaller().Fatal(i...)
}

func (l *EchoLogrusLogger) Fatalf(format string, args ...interface{}) {
	l.logWithCaller().Fatalf(format, args...)
}

func (l *EchoLogrusLogger) Fatalj(j log.JSON) {
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	l.logWithCaller().Fatalln(string(b))
}

func (l *EchoLogrusLogger) Panic(i ...interface{}) {
	l.logWithCaller().Panic(i...)
}

func (l *EchoLogrusLogger) Panicf(format string, args ...interface{}) {
	l.logWithCaller().Panicf(format, args...)
}

func (l *EchoLogrusLogger) Panicj(j log.JSON) {
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	l.logWithCaller().Panicln(string(b))
}

func (l *EchoLogrusLogger) Close() {
	// nothing to release, kept for symmetry with LoggerMiddleware
}
