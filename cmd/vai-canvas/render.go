package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/vai-canvas/pkg/core/history"
	"github.com/vango-go/vai-canvas/pkg/core/notify"
	"github.com/vango-go/vai-canvas/pkg/core/transcript"
	"github.com/vango-go/vai-canvas/pkg/core/workspace"
	"github.com/vango-go/vai-canvas/pkg/live/session"
	"github.com/vango-go/vai-canvas/pkg/live/tools"
)

var (
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	modelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))

	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	dateStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("135")).Bold(true)
)

// console serializes writes from session callbacks and the prompt loop.
type console struct {
	mu     sync.Mutex
	out    io.Writer
	prompt string
}

func newConsole(out io.Writer, interactive bool) *console {
	c := &console{out: out}
	if interactive {
		c.prompt = promptStyle.Render("canvas> ")
	}
	return c
}

// println writes a line and redraws the prompt after it.
func (c *console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prompt != "" {
		fmt.Fprint(c.out, "\r\033[K")
	}
	fmt.Fprintln(c.out, line)
	fmt.Fprint(c.out, c.prompt)
}

func (c *console) showPrompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, c.prompt)
}

func renderEntry(e transcript.Entry) string {
	switch e.Role {
	case transcript.RoleUser:
		return userStyle.Render("you") + "  " + e.Text
	case transcript.RoleModel:
		return modelStyle.Render("model") + " " + e.Text
	default:
		return systemStyle.Render("· " + e.Text)
	}
}

func renderNotification(n notify.Notification) string {
	switch n.Severity {
	case notify.SeveritySuccess:
		return successStyle.Render("✓ " + n.Message)
	case notify.SeverityError:
		return errorStyle.Render("✗ " + n.Message)
	default:
		return infoStyle.Render("ℹ " + n.Message)
	}
}

func renderState(from, to session.ConnectionState) string {
	style := infoStyle
	switch to {
	case session.Connected:
		style = successStyle
	case session.Error:
		style = errorStyle
	}
	return style.Render(fmt.Sprintf("[%s → %s]", from, to))
}

func renderVideo(v tools.VideoState) string {
	if !v.Active {
		return infoStyle.Render("▪ video stopped")
	}
	return infoStyle.Render(fmt.Sprintf("▶ %s  %s", v.Query, v.URL))
}

func renderItems(items []workspace.Item, activeID string) string {
	if len(items) == 0 {
		return systemStyle.Render("· workspace is empty")
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		marker := "  "
		title := it.Title
		if it.ID == activeID {
			marker = activeStyle.Render("▸ ")
			title = activeStyle.Render(title)
		}
		fmt.Fprintf(&b, "%s%-11s %s %s", marker, it.Kind, title, idStyle.Render(it.ID))
	}
	return b.String()
}

func writeHistoryList(w io.Writer, snaps []history.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, systemStyle.Render("No saved sessions."))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tDURATION\tENTRIES\tITEMS")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			s.SessionID,
			s.StartTime.Local().Format("2006-01-02 15:04"),
			snapshotDuration(s),
			len(s.Transcript),
			len(s.Items),
		)
	}
	tw.Flush()
}

func snapshotDuration(s history.Snapshot) string {
	if !s.Closed() {
		return "open"
	}
	return s.EndTime.Sub(s.StartTime).Round(time.Second).String()
}

func writeSnapshot(w io.Writer, s history.Snapshot) {
	fmt.Fprintf(w, "%s %s\n", activeStyle.Render(s.SessionID), dateStyle.Render(s.StartTime.Local().Format(time.RFC1123)))
	for _, e := range s.Transcript {
		fmt.Fprintln(w, renderEntry(e))
	}
	if len(s.Items) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderItems(s.Items, s.ActiveItemID))
	}
}
