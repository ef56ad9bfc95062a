package transport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vango-go/vai-canvas/pkg/core"
)

// IsTeardown reports whether err is the expected result of sending on a
// connection that is not open yet or is being torn down.
func IsTeardown(err error) bool {
	return core.KindOf(err) == core.KindTeardown ||
		errors.Is(err, context.Canceled)
}

// BestEffort runs send and never propagates its error. Teardown errors are
// dropped silently; anything else is logged at debug level. It reports
// whether the send succeeded.
//
// Every send that can race Disconnect goes through here.
func BestEffort(logger *slog.Logger, what string, send func() error) bool {
	err := send()
	if err == nil {
		return true
	}
	if !IsTeardown(err) && logger != nil {
		logger.Debug("transport: best-effort send failed", "what", what, "error", err)
	}
	return false
}
