package session

import (
	"errors"
	"fmt"

	"github.com/vango-go/vai-canvas/pkg/core"
	"github.com/vango-go/vai-canvas/pkg/core/transcript"
	"github.com/vango-go/vai-canvas/pkg/live/playback"
	"github.com/vango-go/vai-canvas/pkg/live/tools"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
)

type endKind int

const (
	endUser endKind = iota
	endRemote
	endFailed
)

func (k endKind) String() string {
	switch k {
	case endUser:
		return "user"
	case endRemote:
		return "remote"
	default:
		return "failed"
	}
}

// endConnection ends c's lifetime. It reports false if c was no longer the
// current connection, in which case someone else already ended it.
func (s *Session) endConnection(c *connection, kind endKind, cause error) bool {
	s.lifeMu.Lock()
	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		s.lifeMu.Unlock()
		c.teardown()
		return false
	}
	s.conn = nil
	s.mu.Unlock()
	s.lifeMu.Unlock()

	wasOpen := c.isOpen()
	c.setEndErr(cause)
	c.teardown()

	to := Disconnected
	if kind == endFailed {
		to = Error
	}
	s.mu.Lock()
	from, changed := s.state, false
	// A newer Connect owns the state once it has installed its connection.
	if s.conn == nil {
		from, changed = s.setStateLocked(to)
	}
	s.unlockAndNotifyState(from, to, changed)

	switch {
	case wasOpen:
		s.metrics.RecordSessionEnd(c.openedSince(s.now()))
	case kind == endFailed:
		s.metrics.RecordSessionFailed()
	}

	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if m := s.meta.Load(); m == nil || m.id != c.id {
		c.logger.Info("session: ended after a newer lifetime started", "reason", kind.String())
		return true
	}
	s.markEnded(c.id)
	log := c.logger.With("reason", kind.String())
	switch kind {
	case endUser:
		log.Info("session: disconnected")
		s.transcript.System("Disconnected.")
	case endRemote:
		log.Info("session: closed by server", "cause", cause)
		s.transcript.System("Connection closed by the server.")
		s.notes.Info("Disconnected")
	case endFailed:
		log.Warn("session: connection failed", "error", cause)
		s.transcript.System("Connection failed: " + errorText(cause))
		s.notes.Error("Connection failed")
	}
	if kind != endUser {
		s.persist()
	}
	return true
}

func (s *Session) handleEvent(c *connection, ev transport.Event) {
	if !s.isCurrent(c) {
		return
	}
	switch e := ev.(type) {
	case transport.OpenEvent:
		s.handleOpen(c)
	case transport.MessageEvent:
		s.withinLifetime(c, func() { s.handleMessage(c, e) })
	case transport.ErrorEvent:
		if !c.isOpen() {
			c.setLastErr(e.Err)
			return
		}
		c.logger.Warn("session: transport error", "error", e.Err)
		s.withinLifetime(c, func() {
			s.transcript.System("Connection error: " + errorText(e.Err))
			s.notes.Error("Connection error")
		})
	case transport.CloseEvent:
		if c.isOpen() {
			s.endConnection(c, endRemote, fmt.Errorf("closed by server: %s", e.Reason))
			return
		}
		cause := c.lastError()
		if cause == nil {
			cause = fmt.Errorf("closed during setup: %s", e.Reason)
		}
		s.endConnection(c, endFailed, core.NewConnectivityError("open transport", cause))
	}
}

func (s *Session) handleOpen(c *connection) {
	if !c.markOpen(s.now()) {
		return
	}
	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		return
	}
	from, changed := s.setStateLocked(Connected)
	s.unlockAndNotifyState(from, Connected, changed)

	c.logger.Info("session: connected")
	s.metrics.RecordSessionStart()
	s.withinLifetime(c, func() {
		s.transcript.System("Connected.")
		s.notes.Success("Connected")
	})
	if c.dualMode {
		_ = s.startScreen(c.ctx, c)
	}
	close(c.opened)
}

func (s *Session) handleMessage(c *connection, m transport.MessageEvent) {
	if m.InputText != "" {
		c.appendInput(m.InputText)
	}
	if m.OutputText != "" {
		// The model answering closes the user's utterance.
		if in := c.takeInput(); in != "" {
			s.transcript.Append(transcript.RoleUser, in)
		}
		c.appendOutput(m.OutputText)
	}

	for _, chunk := range m.Audio {
		s.metrics.RecordAudioFrame("inbound", "received", len(chunk))
		if _, err := c.scheduler.Enqueue(chunk); err != nil && !errors.Is(err, playback.ErrClosed) {
			c.logger.Debug("session: dropped audio chunk", "error", err)
		}
	}
	if m.Interrupted {
		c.scheduler.Interrupt()
		s.flushTurn(c)
	}
	if m.TurnComplete {
		s.flushTurn(c)
	}

	for _, call := range m.ToolCalls {
		if !c.dispatcher.Dispatch(tools.RequestFromCall(call)) {
			c.logger.Debug("session: tool call rejected", "call_id", call.ID, "tool", call.Name)
		}
	}
	if len(m.ToolCancellations) > 0 {
		c.dispatcher.Cancel(m.ToolCancellations...)
	}
}

func (s *Session) flushTurn(c *connection) {
	in, out := c.takeTurn()
	if in != "" {
		s.transcript.Append(transcript.RoleUser, in)
	}
	if out != "" {
		s.transcript.Append(transcript.RoleModel, out)
	}
}

func errorText(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err.Error()
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
