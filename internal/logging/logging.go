// Package logging backs voicesession.Logger with go.uber.org/zap, the
// structured logging library carried by SoulMyStage-SoulNexus's stack
// (SPEC_FULL.md §A.1). The teacher's own Logger interface is unchanged —
// this package only supplies a production-grade implementation of it.
package logging

import (
	"go.uber.org/zap"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

// ZapLogger adapts *zap.SugaredLogger to voicesession.Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a ZapLogger. debug selects zap's development config (human
// readable, debug level enabled) over its production config (JSON, info
// level) — SPEC_FULL.md §A.3's debug flag.
func New(debug bool) (*ZapLogger, error) {
	var base *zap.Logger
	var err error
	if debug {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: base.Sugar()}, nil
}

func (l *ZapLogger) Debug(msg string, args ...interface{}) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...interface{})  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...interface{})  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...interface{}) { l.sugar.Errorw(msg, args...) }

// Sync flushes any buffered log entries. Call before process exit.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

var _ voicesession.Logger = (*ZapLogger)(nil)
