// Package session owns the lifecycle of one live voice connection: it opens
// the transport, wires capture, playback, screen sampling and tool dispatch to
// it, and tears everything down as a unit.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/vai-canvas/pkg/core"
	"github.com/vango-go/vai-canvas/pkg/core/history"
	"github.com/vango-go/vai-canvas/pkg/core/notify"
	"github.com/vango-go/vai-canvas/pkg/core/transcript"
	"github.com/vango-go/vai-canvas/pkg/core/workspace"
	"github.com/vango-go/vai-canvas/pkg/live/capture"
	"github.com/vango-go/vai-canvas/pkg/live/playback"
	"github.com/vango-go/vai-canvas/pkg/live/screen"
	"github.com/vango-go/vai-canvas/pkg/live/tools"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
	"github.com/vango-go/vai-canvas/pkg/metrics"
)

const (
	DefaultPersistTimeout = 5 * time.Second
)

// ErrAborted is returned by Connect when Disconnect or a newer Connect
// cancelled the attempt.
var ErrAborted = errors.New("session: connect aborted")

// Devices opens the local media for one connection. A nil Microphone runs
// without capture; a nil Speaker plays on a silent wall clock; a nil Screen
// disables screen sharing.
type Devices struct {
	Microphone func(ctx context.Context) (capture.Source, error)
	Speaker    func(ctx context.Context) (playback.Output, error)
	Screen     func(ctx context.Context) (screen.Source, error)
}

// Config configures a Session.
type Config struct {
	// APIKey is the model credential. Connect fails without it.
	APIKey    string
	Connector transport.Connector
	Devices   Devices

	// History stores snapshots. Defaults to an in-memory store.
	History history.Store

	// Tool collaborators. Workspace, Video and Notify are owned by the session.
	Apps     tools.AppDirectory
	Browser  tools.Browser
	Images   tools.ImageGenerator
	Exporter tools.Exporter

	ToolTimeout    time.Duration
	PersistTimeout time.Duration
	ScreenInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer

	// Callbacks run on session goroutines and must not call Connect,
	// Disconnect or SetScreenShare.
	OnStateChange  func(from, to ConnectionState)
	OnSpeaking     func(bool)
	OnNotification func(notify.Notification)
	OnTranscript   func(transcript.Entry)
	OnWorkspace    func()
	OnVideo        func(tools.VideoState)
}

type sessionMeta struct {
	id    string
	start time.Time
	end   *time.Time
}

// Session is safe for concurrent use.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	transcript *transcript.Log
	workspace  *workspace.Store
	notes      *notify.Queue
	video      *tools.VideoPlayer
	toolEnv    tools.Env
	flusher    *history.Flusher

	// opMu serializes Connect setup, Disconnect and SetScreenShare. It is
	// never held while waiting for the transport.
	opMu sync.Mutex

	// lifeMu orders lifetime switches against writes made for a
	// connection. Writers hold it exclusively; writes for a connection hold
	// it shared. It is taken before mu.
	lifeMu sync.RWMutex

	mu    sync.Mutex
	state ConnectionState
	conn  *connection

	// persistMu keeps snapshots submitted in the order they were taken.
	persistMu sync.Mutex

	notifyMu sync.Mutex
	meta     atomic.Pointer[sessionMeta]
	now      func() time.Time
}

func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.History == nil {
		cfg.History = history.NewMemoryStore()
	}

	s := &Session{
		cfg:     cfg,
		logger:  logger.With("component", "session"),
		metrics: cfg.Metrics,
		now:     time.Now,
	}
	s.transcript = transcript.New(transcript.WithOnAppend(s.transcriptAppended))
	s.workspace = workspace.NewStore(workspace.WithOnChange(s.workspaceChanged))
	s.notes = notify.NewQueue(notify.WithListener(cfg.OnNotification))
	s.video = tools.NewVideoPlayer(cfg.OnVideo)
	s.toolEnv = tools.Env{
		Workspace: s.workspace,
		Apps:      cfg.Apps,
		Browser:   cfg.Browser,
		Images:    cfg.Images,
		Exporter:  cfg.Exporter,
		Video:     s.video,
		Notify:    s.notes,
	}
	s.flusher = history.NewFlusher(cfg.History,
		history.WithLogger(s.logger),
		history.WithSaveTimeout(cfg.PersistTimeout),
		history.WithErrorHook(func(error) { s.metrics.RecordSnapshotError() }),
	)
	return s
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the id of the current or last connection lifetime.
func (s *Session) SessionID() string {
	if m := s.meta.Load(); m != nil {
		return m.id
	}
	return ""
}

// Speaking reports whether model audio is scheduled for playback.
func (s *Session) Speaking() bool {
	c := s.current()
	if c == nil {
		return false
	}
	return c.scheduler.Speaking()
}

// ScreenSharing reports whether the screen sampler is running.
func (s *Session) ScreenSharing() bool {
	c := s.current()
	if c == nil {
		return false
	}
	return c.screenRunning()
}

func (s *Session) Transcript() *transcript.Log    { return s.transcript }
func (s *Session) Workspace() *workspace.Store    { return s.workspace }
func (s *Session) Notifications() *notify.Queue   { return s.notes }
func (s *Session) Video() *tools.VideoPlayer      { return s.video }
func (s *Session) History() history.Store         { return s.cfg.History }

// Connect opens a new connection lifetime and blocks until it is Connected,
// fails, or ctx is done. An existing connection is disconnected first. With
// dualMode set, screen sharing starts as soon as the connection opens.
func (s *Session) Connect(ctx context.Context, dualMode bool) error {
	c, err := s.startConnect(ctx, dualMode)
	if err != nil {
		return err
	}
	return s.awaitOpen(ctx, c)
}

func (s *Session) startConnect(ctx context.Context, dualMode bool) (*connection, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if strings.TrimSpace(s.cfg.APIKey) == "" {
		s.mu.Lock()
		from, changed := s.setStateLocked(Error)
		s.unlockAndNotifyState(from, Error, changed)
		s.transcript.System("Connection failed: no API key configured.")
		s.notes.Error("Add an API key to start a session")
		return nil, core.ErrNoCredential
	}
	if s.current() != nil {
		s.disconnectLocked(ctx)
	}

	meta := &sessionMeta{id: uuid.NewString(), start: s.now()}
	s.lifeMu.Lock()
	s.meta.Store(meta)
	s.transcript.Reset()
	s.workspace.Reset()
	s.video.Stop()
	s.lifeMu.Unlock()
	log := s.logger.With("session_id", meta.id)

	c := newConnection(meta.id, dualMode, log)
	s.mu.Lock()
	s.conn = c
	from, changed := s.setStateLocked(Connecting)
	s.unlockAndNotifyState(from, Connecting, changed)
	s.transcript.System("Connecting...")

	if err := s.acquireMedia(ctx, c); err != nil {
		s.endConnection(c, endFailed, err)
		close(c.wired)
		return nil, err
	}

	env := s.toolEnv
	env.Guard = func(apply func()) bool { return s.withinLifetime(c, apply) }
	c.dispatcher = tools.NewDispatcher(tools.Builtin(env), c,
		tools.WithTimeout(s.cfg.ToolTimeout),
		tools.WithReporter(tools.ReporterFunc(func(name string, err error) {
			s.withinLifetime(c, func() { s.reportToolError(name, err) })
		})),
		tools.WithLogger(log),
		tools.WithMetrics(s.metrics),
		tools.WithTracer(s.cfg.Tracer),
	)
	c.pending = transport.Open(c.ctx, s.cfg.Connector, func(ev transport.Event) {
		<-c.wired
		s.handleEvent(c, ev)
	})
	close(c.wired)
	log.Info("session: connecting", "dual_mode", dualMode)
	return c, nil
}

func (s *Session) acquireMedia(ctx context.Context, c *connection) error {
	var out playback.Output
	if s.cfg.Devices.Speaker != nil {
		o, err := s.cfg.Devices.Speaker(ctx)
		if err != nil {
			return core.NewMediaError("open speaker", err)
		}
		out = o
	} else {
		out = playback.NewTimerOutput()
	}
	c.scheduler = playback.New(out,
		playback.WithLogger(c.logger),
		playback.WithMetrics(s.metrics),
		playback.WithOnSpeaking(s.cfg.OnSpeaking),
	)

	if s.cfg.Devices.Microphone != nil {
		mic, err := s.cfg.Devices.Microphone(ctx)
		if err != nil {
			return core.NewMediaError("open microphone", err)
		}
		c.capture = capture.New(mic, c,
			capture.WithLogger(c.logger),
			capture.WithMetrics(s.metrics),
			capture.WithOnEnd(func(err error) { s.microphoneEnded(c, err) }),
		)
	}
	return nil
}

func (s *Session) awaitOpen(ctx context.Context, c *connection) error {
	ready := c.pending.Ready()
	for {
		select {
		case <-c.opened:
			return nil
		case <-c.done:
			return c.endErr()
		case <-ready:
			ready = nil
			if err := c.pending.Err(); err != nil {
				s.endConnection(c, endFailed, core.NewConnectivityError("open transport", err))
				return c.endErr()
			}
		case <-ctx.Done():
			select {
			case <-c.opened:
				return nil
			default:
			}
			s.endConnection(c, endFailed, core.NewConnectivityError("open transport", ctx.Err()))
			return c.endErr()
		}
	}
}

// Disconnect tears down the current connection, if any, and flushes the final
// snapshot. It is idempotent and safe to call from any state.
func (s *Session) Disconnect(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.disconnectLocked(ctx)
}

func (s *Session) disconnectLocked(ctx context.Context) {
	c := s.current()
	if c == nil {
		s.mu.Lock()
		from, changed := Disconnected, false
		if s.state == Error {
			from, changed = s.setStateLocked(Disconnected)
		}
		s.unlockAndNotifyState(from, Disconnected, changed)
		return
	}
	if !s.endConnection(c, endUser, ErrAborted) {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	if err := s.flushSnapshot(fctx); err != nil {
		s.logger.Warn("session: final snapshot failed", "session_id", c.id, "error", err)
	}
}

// SetScreenShare starts or stops the screen sampler on the open connection.
func (s *Session) SetScreenShare(ctx context.Context, on bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	c := s.current()
	if c == nil || !c.isOpen() {
		return core.ErrNotConnected
	}
	if !on {
		if c.stopScreen() {
			s.transcript.System("Screen sharing stopped.")
		}
		return nil
	}
	return s.startScreen(ctx, c)
}

// Close disconnects and stops background work. The Session is unusable
// afterwards.
func (s *Session) Close() {
	s.Disconnect(context.Background())
	s.flusher.Close()
	s.notes.Close()
}

func (s *Session) startScreen(ctx context.Context, c *connection) error {
	c.screenMu.Lock()
	defer c.screenMu.Unlock()

	if c.isTorn() {
		return core.ErrNotConnected
	}
	if c.screen != nil {
		if c.screen.Running() {
			return nil
		}
		c.screen.Stop()
		c.screen = nil
	}
	if s.cfg.Devices.Screen == nil {
		err := core.NewMediaError("open screen", errors.New("screen capture is not available"))
		s.withinLifetime(c, func() { s.reportMediaError("Screen sharing unavailable", err) })
		return err
	}
	src, err := s.cfg.Devices.Screen(ctx)
	if err != nil {
		err = core.NewMediaError("open screen", err)
		s.withinLifetime(c, func() { s.reportMediaError("Screen sharing failed", err) })
		return err
	}
	c.screen = screen.New(src, c,
		screen.WithInterval(s.cfg.ScreenInterval),
		screen.WithLogger(c.logger),
		screen.WithMetrics(s.metrics),
		screen.WithOnEnded(func(err error) { s.screenEnded(c, err) }),
	)
	c.screen.Start(c.ctx)
	s.withinLifetime(c, func() {
		s.transcript.System("Screen sharing started.")
		s.notes.Info("Sharing your screen")
	})
	return nil
}

func (s *Session) screenEnded(c *connection, err error) {
	s.withinLifetime(c, func() {
		c.logger.Info("session: screen source ended", "error", err)
		s.transcript.System("Screen sharing ended.")
		s.notes.Info("Screen sharing ended")
	})
}

func (s *Session) microphoneEnded(c *connection, err error) {
	if err == nil {
		err = errors.New("microphone stream ended")
	}
	s.withinLifetime(c, func() {
		s.reportMediaError("Microphone stopped", core.NewMediaError("capture", err))
	})
}

func (s *Session) reportMediaError(msg string, err error) {
	s.logger.Warn("session: media error", "error", err)
	s.transcript.System(msg + ": " + err.Error())
	s.notes.Error(msg)
}

func (s *Session) reportToolError(name string, err error) {
	s.transcript.System(fmt.Sprintf("Tool %s failed: %v", name, err))
	s.notes.Error(fmt.Sprintf("%s failed", name))
}

func (s *Session) current() *connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) isCurrent(c *connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == c
}

// withinLifetime runs fn if c is still the live connection and reports
// whether it ran. A lifetime switch waits for fn to return.
func (s *Session) withinLifetime(c *connection, fn func()) bool {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if c.isTorn() || !s.isCurrent(c) {
		return false
	}
	fn()
	return true
}

// setStateLocked applies a legal transition and reports the previous state.
func (s *Session) setStateLocked(to ConnectionState) (ConnectionState, bool) {
	from := s.state
	if from == to {
		return from, false
	}
	if !CanTransition(from, to) {
		s.logger.Error("session: illegal state transition", "from", from, "to", to)
		return from, false
	}
	s.state = to
	return from, true
}

// unlockAndNotifyState releases s.mu and delivers the transition in order.
func (s *Session) unlockAndNotifyState(from, to ConnectionState, changed bool) {
	if !changed {
		s.mu.Unlock()
		return
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.metrics.RecordStateChange(from.String(), to.String())
	s.logger.Debug("session: state changed", "from", from, "to", to)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
}

func (s *Session) transcriptAppended(e transcript.Entry) {
	if fn := s.cfg.OnTranscript; fn != nil {
		fn(e)
	}
	s.persist()
}

func (s *Session) workspaceChanged() {
	if s.cfg.OnWorkspace != nil {
		s.cfg.OnWorkspace()
	}
	s.persist()
}

func (s *Session) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if s.meta.Load() == nil {
		return
	}
	s.flusher.Submit(s.snapshot())
}

// flushSnapshot saves the current snapshot and waits for it.
func (s *Session) flushSnapshot(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.flusher.Flush(ctx, s.snapshot())
}

func (s *Session) snapshot() history.Snapshot {
	m := s.meta.Load()
	return history.Snapshot{
		SessionID:    m.id,
		StartTime:    m.start,
		EndTime:      m.end,
		Transcript:   s.transcript.Entries(),
		Items:        s.workspace.List(),
		ActiveItemID: s.workspace.ActiveID(),
	}
}

// markEnded stamps the lifetime with an end time so later snapshots keep it.
func (s *Session) markEnded(id string) {
	m := s.meta.Load()
	if m == nil || m.id != id || m.end != nil {
		return
	}
	end := s.now()
	s.meta.Store(&sessionMeta{id: m.id, start: m.start, end: &end})
}
