package main

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-canvas/pkg/config"
	"github.com/vango-go/vai-canvas/pkg/core/history"
	"github.com/vango-go/vai-canvas/pkg/core/notify"
	"github.com/vango-go/vai-canvas/pkg/core/transcript"
	"github.com/vango-go/vai-canvas/pkg/live/session"
	"github.com/vango-go/vai-canvas/pkg/live/tools"
	"github.com/vango-go/vai-canvas/pkg/live/transport/gemini"
	"github.com/vango-go/vai-canvas/pkg/live/transport/ws"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line     string
		wantName string
		wantArgs []string
	}{
		{"", "", nil},
		{"   ", "", nil},
		{"Connect dual", "connect", []string{"dual"}},
		{"select  abc ", "select", []string{"abc"}},
	}
	for _, tc := range cases {
		name, args := parseCommand(tc.line)
		if name != tc.wantName || (len(args) > 0 || len(tc.wantArgs) > 0) && !reflect.DeepEqual(args, tc.wantArgs) {
			t.Fatalf("parseCommand(%q) = %q %v, want %q %v", tc.line, name, args, tc.wantName, tc.wantArgs)
		}
	}
}

func TestNewConnector(t *testing.T) {
	c, err := newConnector(config.Config{Transport: config.TransportGemini}, nil)
	if err != nil || c != nil {
		t.Fatalf("newConnector(no key) = %v, %v, want nil", c, err)
	}

	c, err = newConnector(config.Config{Transport: config.TransportGemini, APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("newConnector(gemini) error = %v", err)
	}
	if _, ok := c.(*gemini.Connector); !ok {
		t.Fatalf("newConnector(gemini) = %T", c)
	}

	c, err = newConnector(config.Config{
		Transport:  config.TransportWS,
		GatewayURL: "ws://127.0.0.1:1/live",
		LiveModel:  gemini.DefaultModel,
	}, nil)
	if err != nil {
		t.Fatalf("newConnector(ws) error = %v", err)
	}
	wc, ok := c.(*ws.Connector)
	if !ok {
		t.Fatalf("newConnector(ws) = %T", c)
	}
	if hello := wc.Hello(); len(hello.Tools) != 5 {
		t.Fatalf("Hello().Tools = %d, want the 5 built-in tools", len(hello.Tools))
	}
}

func TestNewDevices(t *testing.T) {
	d := newDevices(config.Config{Headless: true}, runOptions{noScreen: true})
	if d.Microphone != nil || d.Speaker != nil || d.Screen != nil {
		t.Fatalf("headless devices = %+v, want none", d)
	}
	d = newDevices(config.Config{}, runOptions{})
	if d.Microphone == nil || d.Speaker == nil || d.Screen == nil {
		t.Fatalf("devices = %+v, want all", d)
	}
}

func TestHistoryCommands(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	t.Setenv("VAI_CANVAS_TRANSPORT", "gemini")
	t.Setenv("VAI_CANVAS_HISTORY_BACKEND", "sqlite")
	t.Setenv("VAI_CANVAS_HISTORY_DSN", dsn)

	ctx := context.Background()
	store, err := history.Open(ctx, "sqlite", dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	snap := history.Snapshot{
		SessionID:  "sess-1",
		StartTime:  start,
		EndTime:    &end,
		Transcript: []transcript.Entry{{Role: transcript.RoleUser, Text: "draw a fox", Timestamp: start}},
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	store.Close()

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		root := newRootCmd()
		root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
		root.SetOut(&out)
		root.SetErr(&out)
		if err := root.Execute(); err != nil {
			t.Fatalf("%v error = %v", args, err)
		}
		return out.String()
	}

	if out := run("history", "list"); !strings.Contains(out, "sess-1") || !strings.Contains(out, "1m30s") {
		t.Fatalf("history list = %q", out)
	}
	if out := run("history", "show", "sess-1"); !strings.Contains(out, "draw a fox") {
		t.Fatalf("history show = %q", out)
	}
	run("history", "delete", "sess-1")
	if out := run("history", "list"); !strings.Contains(out, "No saved sessions.") {
		t.Fatalf("history list after delete = %q", out)
	}
}

func newTestConsoleSession(t *testing.T) (*session.Session, *console, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	con := newConsole(&out, false)
	s := session.New(session.Config{
		OnStateChange:  func(from, to session.ConnectionState) { con.println(renderState(from, to)) },
		OnNotification: func(n notify.Notification) { con.println(renderNotification(n)) },
		OnTranscript:   func(e transcript.Entry) { con.println(renderEntry(e)) },
	})
	t.Cleanup(s.Close)
	return s, con, &out
}

func TestREPL_Commands(t *testing.T) {
	s, con, out := newTestConsoleSession(t)
	r := &repl{sess: s, con: con, apps: tools.NewApps(tools.App{Name: "YouTube"}, tools.App{Name: "Canva"})}

	in := strings.NewReader("items\nselect\nbogus\nshare\napps\nquit\nitems\n")
	if err := r.run(context.Background(), in, false); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"workspace is empty",
		"usage: select <id>",
		`unknown command "bogus"`,
		"not connected (connect to continue)",
		"apps: Canva, YouTube",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "workspace is empty") != 1 {
		t.Fatalf("commands after quit were run:\n%s", got)
	}
}

func TestREPL_ConnectWithoutKey(t *testing.T) {
	s, con, out := newTestConsoleSession(t)
	r := &repl{sess: s, con: con}

	if err := r.run(context.Background(), strings.NewReader("connect\n"), false); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "no API key configured") || !strings.Contains(got, "[disconnected → error]") {
		t.Fatalf("output = %q", got)
	}
	if s.State() != session.Error {
		t.Fatalf("State() = %v, want error", s.State())
	}
}
