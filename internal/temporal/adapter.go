package temporal

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// ZapAdapter lets zap back the keyval logger used by the Temporal SDK and by
// the research driver.
type ZapAdapter struct {
	logger *zap.Logger
}

func NewZapAdapter(logger *zap.Logger) log.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (z *ZapAdapter) Debug(msg string, keyvals ...interface{}) {
	z.logger.Debug(msg, fields(keyvals)...)
}

func (z *ZapAdapter) Info(msg string, keyvals ...interface{}) {
	z.logger.Info(msg, fields(keyvals)...)
}

func (z *ZapAdapter) Warn(msg string, keyvals ...interface{}) {
	z.logger.Warn(msg, fields(keyvals)...)
}

func (z *ZapAdapter) Error(msg string, keyvals ...interface{}) {
	z.logger.Error(msg, fields(keyvals)...)
}

// With returns a logger carrying keyvals on every entry.
func (z *ZapAdapter) With(keyvals ...interface{}) log.Logger {
	return &ZapAdapter{logger: z.logger.With(fields(keyvals)...)}
}

func fields(keyvals []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		// callers sometimes hand zap fields straight through
		if f, ok := keyvals[i].(zap.Field); ok {
			out = append(out, f)
			i--
			continue
		}
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		if i+1 >= len(keyvals) {
			out = append(out, zap.String(key, "<missing>"))
			break
		}
		out = append(out, field(key, keyvals[i+1]))
	}
	return out
}

// field builds a zap field, degrading values zap.Any cannot encode.
func field(key string, val interface{}) (f zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			f = zap.String(key, fmt.Sprintf("<unserializable: %v>", r))
		}
	}()

	switch v := val.(type) {
	case nil:
		return zap.String(key, "<nil>")
	case error:
		return zap.NamedError(key, v)
	}
	switch reflect.ValueOf(val).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return zap.String(key, fmt.Sprintf("<%T>", val))
	default:
		return zap.Any(key, val)
	}
}
