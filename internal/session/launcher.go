// Package session holds the fire-and-forget handoff to instrument-session
// orchestration. The server invokes it after hello and send_file requests
// and never waits on the result; orchestration being absent or broken must
// not affect the response already sent to the peer.
package session

import (
	"github.com/rs/zerolog"
)

// SessionFunc performs one instrument session for a device.
type SessionFunc func(serial string, params map[string]any) error

// Launcher starts a session for a device without blocking the caller.
type Launcher interface {
	Launch(serial string, params map[string]any, done func(error))
}

// AsyncLauncher runs the configured SessionFunc on its own goroutine.
type AsyncLauncher struct {
	fn     SessionFunc
	logger zerolog.Logger
}

// NewAsyncLauncher wraps fn as a non-blocking launcher.
func NewAsyncLauncher(fn SessionFunc, logger zerolog.Logger) *AsyncLauncher {
	return &AsyncLauncher{fn: fn, logger: logger}
}

// Launch starts the session and returns immediately. The session's error,
// if any, goes to the done callback and the log; it is never surfaced to
// the network peer.
func (l *AsyncLauncher) Launch(serial string, params map[string]any, done func(error)) {
	go func() {
		err := l.fn(serial, params)
		if err != nil {
			l.logger.Warn().Err(err).Str("serial", serial).Msg("Instrument session failed")
		}
		if done != nil {
			done(err)
		}
	}()
	l.logger.Info().Str("serial", serial).Msg("Instrument session launched")
}

// NopLauncher is used when no orchestration hook is configured.
type NopLauncher struct{}

func (NopLauncher) Launch(serial string, params map[string]any, done func(error)) {}
