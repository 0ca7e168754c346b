// Package zap adapts a *zap.Logger to tiercache.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/tiercache"
)

var _ tiercache.Logger = Logger{}

// Logger writes tiercache events through L. Error values become zap
// NamedError fields so encoders render them as strings.
type Logger struct{ L *zap.Logger }

func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l.With(zap.String("component", "tiercache"))}
}

func (z Logger) Debug(msg string, f tiercache.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f tiercache.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f tiercache.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f tiercache.Fields) { z.L.Error(msg, fields(f)...) }

func fields(f tiercache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		switch v := f[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
