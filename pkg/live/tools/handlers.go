package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vango-go/vai-canvas/pkg/core"
	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/core/notify"
	"github.com/vango-go/vai-canvas/pkg/core/workspace"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
)

// Tool names as declared to the model.
const (
	NameControlBrowser  = "controlBrowser"
	NameGenerateImage   = "generateImage"
	NamePlayVideo       = "playVideo"
	NameManageWorkspace = "manageWorkspace"
	NameDownloadItem    = "downloadItem"
)

// Browser opens URLs outside the process.
type Browser interface {
	Open(ctx context.Context, url string) error
}

// BrowserFunc adapts a function to Browser.
type BrowserFunc func(ctx context.Context, url string) error

func (f BrowserFunc) Open(ctx context.Context, url string) error { return f(ctx, url) }

// Image is a generated image.
type Image = media.Blob

// ImageGenerator turns a prompt into an image.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (Image, error)
}

// Exporter saves an item somewhere the user can reach it and returns where.
type Exporter interface {
	Export(ctx context.Context, item workspace.Item) (string, error)
}

// Env is what the built-in handlers act on. Nil collaborators make the
// handlers that need them fail with a tool error.
type Env struct {
	Workspace *workspace.Store
	Apps      AppDirectory
	Browser   Browser
	Images    ImageGenerator
	Exporter  Exporter
	Video     *VideoPlayer
	Notify    *notify.Queue

	// Guard, when set, runs each state change on behalf of a call and
	// reports false if the change was refused because its owner has gone.
	Guard func(apply func()) bool
}

// apply runs fn through the guard. A refused change fails the call.
func (e Env) apply(tool string, fn func()) error {
	if e.Guard == nil {
		fn()
		return nil
	}
	if !e.Guard(fn) {
		return core.NewToolError(tool, "session ended before the change was applied")
	}
	return nil
}

func (e Env) notifySuccess(tool, msg string) {
	if e.Notify != nil {
		_ = e.apply(tool, func() { e.Notify.Success(msg) })
	}
}

type ControlBrowserArgs struct {
	AppName     string `json:"appName" desc:"Name of the app or website to open, for example Canva or YouTube"`
	SearchQuery string `json:"searchQuery,omitempty" desc:"Optional search to run inside the app"`
}

func (a *ControlBrowserArgs) Validate() error {
	if strings.TrimSpace(a.AppName) == "" {
		return errors.New("appName is required")
	}
	return nil
}

type GenerateImageArgs struct {
	Prompt string `json:"prompt" desc:"Detailed description of the image to create"`
}

func (a *GenerateImageArgs) Validate() error {
	if strings.TrimSpace(a.Prompt) == "" {
		return errors.New("prompt is required")
	}
	return nil
}

type PlayVideoArgs struct {
	Query string `json:"query" desc:"What to search for and play"`
}

func (a *PlayVideoArgs) Validate() error {
	if strings.TrimSpace(a.Query) == "" {
		return errors.New("query is required")
	}
	return nil
}

type ManageWorkspaceArgs struct {
	Action   string  `json:"action" desc:"Operation to perform" enum:"create,read,update,delete"`
	ItemType string  `json:"itemType,omitempty" desc:"Kind of item to create, defaults to note" enum:"note,image,routine,suggestion,spreadsheet"`
	Title    *string `json:"title,omitempty" desc:"Item title"`
	Content  *string `json:"content,omitempty" desc:"Item content; comma-separated rows for spreadsheets"`
	ItemID   string  `json:"itemId,omitempty" desc:"Id of the item to update or delete"`
}

func (a *ManageWorkspaceArgs) Validate() error {
	switch strings.ToLower(strings.TrimSpace(a.Action)) {
	case "create", "read", "update", "delete":
		return nil
	case "":
		return errors.New("action is required")
	default:
		return fmt.Errorf("unknown action %q", a.Action)
	}
}

type DownloadItemArgs struct {
	ItemID string `json:"itemId" desc:"Id of the workspace item to download"`
}

// Builtin registers the five canvas tools against env.
func Builtin(env Env) *Registry {
	r := NewRegistry()
	r.MustRegister(
		NewTool(NameControlBrowser,
			"Open an app or website in the user's browser, optionally searching inside it.",
			env.controlBrowser),
		NewTool(NameGenerateImage,
			"Generate an image from a prompt and add it to the workspace.",
			env.generateImage),
		NewTool(NamePlayVideo,
			"Search for a video and play it in the video panel.",
			env.playVideo),
		NewTool(NameManageWorkspace,
			"Create, read, update or delete workspace items such as notes, routines, suggestions and spreadsheets.",
			env.manageWorkspace),
		NewTool(NameDownloadItem,
			"Download a workspace item to the user's device.",
			env.downloadItem),
	)
	return r
}

func (e Env) controlBrowser(ctx context.Context, args ControlBrowserArgs) (map[string]any, error) {
	target, known := ResolveAppURL(e.Apps, args.AppName, args.SearchQuery)
	if e.Browser != nil {
		// Opening is fire and forget; the confirmation does not depend on it.
		if err := e.Browser.Open(ctx, target); err != nil {
			return OK(fmt.Sprintf("Tried to open %s at %s but the browser reported: %v", args.AppName, target, err)), nil
		}
	}
	name := strings.TrimSpace(args.AppName)
	if !known {
		e.notifySuccess(NameControlBrowser, "Searching the web for "+name)
		return OK(fmt.Sprintf("Searched the web for %s %s", name, strings.TrimSpace(args.SearchQuery))), nil
	}
	e.notifySuccess(NameControlBrowser, "Opened "+name)
	if q := strings.TrimSpace(args.SearchQuery); q != "" {
		return OK(fmt.Sprintf("Opened %s and searched for %q", name, q)), nil
	}
	return OK("Opened " + name), nil
}

func (e Env) generateImage(ctx context.Context, args GenerateImageArgs) (map[string]any, error) {
	if e.Images == nil {
		return nil, core.NewToolError(NameGenerateImage, "image generation is not configured")
	}
	if e.Workspace == nil {
		return nil, core.NewToolError(NameGenerateImage, "workspace is not available")
	}
	img, err := e.Images.Generate(ctx, args.Prompt)
	if err != nil {
		return nil, &core.Error{Kind: core.KindTool, Op: NameGenerateImage, Message: "image generation failed", Err: err}
	}
	if len(img.Data) == 0 {
		return nil, core.NewToolError(NameGenerateImage, "no image data returned")
	}
	if img.MIMEType == "" {
		img.MIMEType = "image/png"
	}
	var item workspace.Item
	if err := e.apply(NameGenerateImage, func() {
		item = e.Workspace.Create(workspace.KindImage, truncate(args.Prompt, 60), media.DataURL(img))
	}); err != nil {
		return nil, err
	}
	e.notifySuccess(NameGenerateImage, "Image generated")
	return map[string]any{"result": "Image generated and added to the workspace", "itemId": item.ID}, nil
}

func (e Env) playVideo(ctx context.Context, args PlayVideoArgs) (map[string]any, error) {
	if e.Video == nil {
		return OK("Playing videos for " + args.Query), nil
	}
	var st VideoState
	if err := e.apply(NamePlayVideo, func() { st = e.Video.Play(args.Query) }); err != nil {
		return nil, err
	}
	return map[string]any{"result": "Playing videos for " + st.Query, "url": st.URL}, nil
}

func (e Env) manageWorkspace(ctx context.Context, args ManageWorkspaceArgs) (map[string]any, error) {
	ws := e.Workspace
	if ws == nil {
		return nil, core.NewToolError(NameManageWorkspace, "workspace is not available")
	}
	id := strings.TrimSpace(args.ItemID)

	switch strings.ToLower(strings.TrimSpace(args.Action)) {
	case "create":
		kind, err := workspace.ParseKind(args.ItemType)
		if err != nil {
			return Fail(err.Error()), nil
		}
		title := deref(args.Title)
		if strings.TrimSpace(title) == "" {
			title = "Untitled " + string(kind)
		}
		var item workspace.Item
		if err := e.apply(NameManageWorkspace, func() { item = ws.Create(kind, title, deref(args.Content)) }); err != nil {
			return nil, err
		}
		return map[string]any{"result": fmt.Sprintf("Created %s %q", item.Kind, item.Title), "itemId": item.ID}, nil

	case "read":
		return OK(ws.Listing()), nil

	case "update":
		if id == "" {
			return Fail("missing id"), nil
		}
		var (
			item workspace.Item
			ok   bool
		)
		if err := e.apply(NameManageWorkspace, func() {
			item, ok = ws.Update(id, workspace.Patch{Title: args.Title, Content: args.Content})
		}); err != nil {
			return nil, err
		}
		if !ok {
			return Fail("item not found: " + id), nil
		}
		return OK(fmt.Sprintf("Updated %q", item.Title)), nil

	case "delete":
		if id == "" {
			return Fail("missing id"), nil
		}
		var ok bool
		if err := e.apply(NameManageWorkspace, func() { ok = ws.Delete(id) }); err != nil {
			return nil, err
		}
		if !ok {
			return Fail("item not found: " + id), nil
		}
		return OK("Deleted " + id), nil
	}
	return Fail(fmt.Sprintf("unknown action %q", args.Action)), nil
}

func (e Env) downloadItem(ctx context.Context, args DownloadItemArgs) (map[string]any, error) {
	if e.Workspace == nil {
		return nil, core.NewToolError(NameDownloadItem, "workspace is not available")
	}
	item, ok := e.Workspace.Get(strings.TrimSpace(args.ItemID))
	if !ok {
		return Fail("item not found: " + args.ItemID), nil
	}
	if e.Exporter == nil {
		return nil, core.NewToolError(NameDownloadItem, "downloads are not available")
	}
	location, err := e.Exporter.Export(ctx, item)
	if err != nil {
		return nil, &core.Error{Kind: core.KindTool, Op: NameDownloadItem, Message: "download failed", Err: err}
	}
	e.notifySuccess(NameDownloadItem, "Downloaded "+item.Title)
	return map[string]any{"result": fmt.Sprintf("Downloaded %q", item.Title), "location": location}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// Declarations returns the built-in tool declarations. They do not depend on
// the environment, so a connector can be configured before a session exists.
func Declarations() []transport.ToolDeclaration {
	return Builtin(Env{}).Declarations()
}
