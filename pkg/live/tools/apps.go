package tools

import (
	"net/url"
	"sort"
	"strings"
	"sync"
)

// WebSearchURL is the fallback for apps that are not in the directory.
const WebSearchURL = "https://www.google.com/search?q={query}"

// App is one entry of the app directory. SearchURL contains {query}.
type App struct {
	Name      string `yaml:"name" json:"name"`
	BaseURL   string `yaml:"url" json:"url"`
	SearchURL string `yaml:"search_url,omitempty" json:"search_url,omitempty"`
}

// AppDirectory resolves app names.
type AppDirectory interface {
	Lookup(name string) (App, bool)
}

// Apps is an AppDirectory whose entries can be replaced at runtime.
type Apps struct {
	mu   sync.RWMutex
	apps map[string]App
}

// DefaultApps is the built-in directory.
func DefaultApps() []App {
	return []App{
		{Name: "Canva", BaseURL: "https://www.canva.com", SearchURL: "https://www.canva.com/search?q={query}"},
		{Name: "Google", BaseURL: "https://www.google.com", SearchURL: WebSearchURL},
		{Name: "YouTube", BaseURL: "https://www.youtube.com", SearchURL: "https://www.youtube.com/results?search_query={query}"},
		{Name: "Spotify", BaseURL: "https://open.spotify.com", SearchURL: "https://open.spotify.com/search/{query}"},
		{Name: "GitHub", BaseURL: "https://github.com", SearchURL: "https://github.com/search?q={query}"},
		{Name: "Wikipedia", BaseURL: "https://en.wikipedia.org", SearchURL: "https://en.wikipedia.org/w/index.php?search={query}"},
		{Name: "Amazon", BaseURL: "https://www.amazon.com", SearchURL: "https://www.amazon.com/s?k={query}"},
		{Name: "Google Maps", BaseURL: "https://www.google.com/maps", SearchURL: "https://www.google.com/maps/search/{query}"},
		{Name: "Google Docs", BaseURL: "https://docs.google.com"},
		{Name: "Gmail", BaseURL: "https://mail.google.com"},
		{Name: "Figma", BaseURL: "https://www.figma.com"},
		{Name: "Notion", BaseURL: "https://www.notion.so"},
	}
}

func NewApps(apps ...App) *Apps {
	a := &Apps{}
	a.Replace(apps)
	return a
}

// Replace swaps the whole directory.
func (a *Apps) Replace(apps []App) {
	m := make(map[string]App, len(apps))
	for _, app := range apps {
		if key := normalizeAppName(app.Name); key != "" {
			m[key] = app
		}
	}
	a.mu.Lock()
	a.apps = m
	a.mu.Unlock()
}

// Lookup ignores case and whitespace.
func (a *Apps) Lookup(name string) (App, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	app, ok := a.apps[normalizeAppName(name)]
	return app, ok
}

// Names lists display names sorted.
func (a *Apps) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.apps))
	for _, app := range a.apps {
		out = append(out, app.Name)
	}
	sort.Strings(out)
	return out
}

// MergeApps returns base with overrides applied by normalized name.
func MergeApps(base, overrides []App) []App {
	index := make(map[string]int, len(base))
	out := append([]App(nil), base...)
	for i, app := range out {
		index[normalizeAppName(app.Name)] = i
	}
	for _, app := range overrides {
		key := normalizeAppName(app.Name)
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			out[i] = app
			continue
		}
		index[key] = len(out)
		out = append(out, app)
	}
	return out
}

// ResolveAppURL picks the URL controlBrowser opens. A known app with a search
// template and a query gets the templated URL, a known app otherwise its base
// URL, and an unknown app a web search for the name plus the query.
func ResolveAppURL(dir AppDirectory, appName, query string) (string, bool) {
	query = strings.TrimSpace(query)
	if dir != nil {
		if app, ok := dir.Lookup(appName); ok {
			if query != "" && app.SearchURL != "" {
				return fillTemplate(app.SearchURL, query), true
			}
			return app.BaseURL, true
		}
	}
	terms := strings.TrimSpace(strings.TrimSpace(appName) + " " + query)
	return fillTemplate(WebSearchURL, terms), false
}

func fillTemplate(tmpl, query string) string {
	return strings.ReplaceAll(tmpl, "{query}", EncodeURIComponent(query))
}

// EncodeURIComponent escapes s for a URL query or path segment, with spaces
// as %20.
func EncodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func normalizeAppName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}
