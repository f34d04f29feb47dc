package helper

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// The default logger used if the user does not provide its
// own implementation. Entries are written through hclog.
type DefaultLogger struct {
	delegate hclog.Logger
	debug    *int32
}

// NewDefaultLogger creates a logger writing to stderr with debug disabled.
func NewDefaultLogger(name string) *DefaultLogger {
	return &DefaultLogger{
		delegate: hclog.New(&hclog.LoggerOptions{
			Name:   name,
			Level:  hclog.Info,
			Output: os.Stderr,
		}),
		debug: new(int32),
	}
}

func (l *DefaultLogger) Info(v ...interface{}) {
	l.delegate.Info(fmt.Sprint(v...))
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.delegate.Info(fmt.Sprintf(format, v...))
}

func (l *DefaultLogger) Warn(v ...interface{}) {
	l.delegate.Warn(fmt.Sprint(v...))
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	l.delegate.Warn(fmt.Sprintf(format, v...))
}

func (l *DefaultLogger) Error(v ...interface{}) {
	l.delegate.Error(fmt.Sprint(v...))
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.delegate.Error(fmt.Sprintf(format, v...))
}

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.isDebug() {
		l.delegate.Debug(fmt.Sprint(v...))
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.isDebug() {
		l.delegate.Debug(fmt.Sprintf(format, v...))
	}
}

func (l *DefaultLogger) isDebug() bool {
	return atomic.LoadInt32(l.debug) == 1
}

// ToggleDebug turns debug entries on or off, returning the previous value.
// Loggers created through AddContext share the same toggle.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	var next int32
	if value {
		next = 1
	}

	previous := atomic.SwapInt32(l.debug, next) == 1
	if value {
		l.delegate.SetLevel(hclog.Debug)
	} else {
		l.delegate.SetLevel(hclog.Info)
	}
	return previous
}

// AddContext creates a sub logger named after the given context.
func (l *DefaultLogger) AddContext(ctx string) types.Logger {
	return &DefaultLogger{
		delegate: l.delegate.Named(ctx),
		debug:    l.debug,
	}
}
