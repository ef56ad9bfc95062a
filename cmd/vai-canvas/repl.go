package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vango-go/vai-canvas/pkg/core"
	"github.com/vango-go/vai-canvas/pkg/live/session"
	"github.com/vango-go/vai-canvas/pkg/live/tools"
)

const helpText = `commands:
  connect [dual]    open a session (dual also shares the screen)
  disconnect        end the session
  share | unshare   start or stop screen sharing
  items             list workspace items
  select <id>       make an item active
  download [id]     save an item (default: the active one)
  apps              list the apps the assistant can open
  status            show connection state
  help              show this help
  quit              disconnect and exit`

// repl reads console commands. Connect runs in the background so that
// disconnect can abort a pending attempt.
type repl struct {
	sess     *session.Session
	exporter tools.Exporter
	apps     *tools.Apps
	con      *console
	dual     bool

	wg sync.WaitGroup
}

func parseCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func (r *repl) run(ctx context.Context, in io.Reader, autoConnect bool) error {
	defer r.wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	if autoConnect {
		r.connect(ctx, r.dual)
	}
	r.con.showPrompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			// Without input an auto-connected console runs until interrupted.
			if autoConnect {
				<-ctx.Done()
			}
			return nil
		case line := <-lines:
			if quit := r.exec(ctx, line); quit {
				return nil
			}
			r.con.showPrompt()
		}
	}
}

// exec runs one command and reports whether the console should exit.
func (r *repl) exec(ctx context.Context, line string) bool {
	name, args := parseCommand(line)
	switch name {
	case "":
	case "connect":
		r.connect(ctx, r.dual || (len(args) > 0 && args[0] == "dual"))
	case "disconnect":
		r.sess.Disconnect(ctx)
	case "share", "unshare":
		if err := r.sess.SetScreenShare(ctx, name == "share"); err != nil {
			r.report(err)
		}
	case "items":
		ws := r.sess.Workspace()
		r.con.println(renderItems(ws.List(), ws.ActiveID()))
	case "select":
		if len(args) != 1 {
			r.con.println(errorStyle.Render("usage: select <id>"))
			return false
		}
		if !r.sess.Workspace().SetActive(args[0]) {
			r.con.println(errorStyle.Render("no item " + args[0]))
		}
	case "download":
		r.download(ctx, args)
	case "apps":
		r.con.println(r.appList())
	case "status":
		r.con.println(r.status())
	case "help", "?":
		r.con.println(helpText)
	case "quit", "exit":
		r.sess.Disconnect(ctx)
		return true
	default:
		r.con.println(errorStyle.Render(fmt.Sprintf("unknown command %q, try help", name)))
	}
	return false
}

func (r *repl) connect(ctx context.Context, dual bool) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.sess.Connect(ctx, dual)
		if err != nil && !errors.Is(err, session.ErrAborted) && ctx.Err() == nil {
			r.report(err)
		}
	}()
}

func (r *repl) download(ctx context.Context, args []string) {
	ws := r.sess.Workspace()
	id := ws.ActiveID()
	if len(args) > 0 {
		id = args[0]
	}
	item, ok := ws.Get(id)
	if !ok {
		r.con.println(errorStyle.Render("no item to download"))
		return
	}
	path, err := r.exporter.Export(ctx, item)
	if err != nil {
		r.report(err)
		return
	}
	r.con.println(successStyle.Render("Saved " + path))
}

func (r *repl) appList() string {
	if r.apps == nil {
		return infoStyle.Render("no apps configured")
	}
	names := r.apps.Names()
	if len(names) == 0 {
		return infoStyle.Render("no apps configured")
	}
	return infoStyle.Render("apps: " + strings.Join(names, ", "))
}

func (r *repl) status() string {
	s := fmt.Sprintf("state=%s session=%s", r.sess.State(), r.sess.SessionID())
	if r.sess.ScreenSharing() {
		s += " sharing"
	}
	if r.sess.Speaking() {
		s += " speaking"
	}
	return infoStyle.Render(s)
}

// report prints err. Errors that leave the session unusable get a hint.
func (r *repl) report(err error) {
	msg := err.Error()
	if !core.IsRecoverable(err) {
		msg += " (connect to continue)"
	}
	r.con.println(errorStyle.Render(msg))
}
