// Package export saves workspace items as files in a download directory.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/renameio/v2"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/core/workspace"
)

// Dir writes items into a directory. Files are replaced atomically, so a
// reader never sees a partial download.
type Dir struct {
	path   string
	logger *slog.Logger
}

// NewDir creates path if needed.
func NewDir(path string, logger *slog.Logger) (*Dir, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("export: download directory is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("export: create %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{path: path, logger: logger.With("component", "export")}, nil
}

// DefaultPath is ~/Downloads/vai-canvas, or a temp directory without a home.
func DefaultPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Downloads", "vai-canvas")
	}
	return filepath.Join(os.TempDir(), "vai-canvas")
}

// Export implements tools.Exporter and returns the written file path.
func (d *Dir) Export(ctx context.Context, item workspace.Item) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, ext, err := Encode(item)
	if err != nil {
		return "", err
	}
	name := FileName(item, ext)
	path := filepath.Join(d.path, name)

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("export: create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			d.logger.Debug("export: cleanup pending file", "error", err)
		}
	}()
	if _, err := pending.Write(data); err != nil {
		return "", fmt.Errorf("export: write %s: %w", name, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("export: replace %s: %w", name, err)
	}
	d.logger.Info("export: item saved", "item_id", item.ID, "path", path)
	return path, nil
}

// Encode renders an item as file bytes. Images are decoded from their data
// URL, spreadsheets become CSV and everything else is plain text.
func Encode(item workspace.Item) ([]byte, string, error) {
	switch item.Kind {
	case workspace.KindImage:
		blob, err := media.ParseDataURL(item.Content)
		if err != nil {
			return nil, "", fmt.Errorf("export: image %s: %w", item.ID, err)
		}
		return blob.Data, imageExt(blob.MIMEType), nil

	case workspace.KindSpreadsheet:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		for _, row := range Rows(item.Content) {
			if err := w.Write(row); err != nil {
				return nil, "", fmt.Errorf("export: spreadsheet %s: %w", item.ID, err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, "", fmt.Errorf("export: spreadsheet %s: %w", item.ID, err)
		}
		return buf.Bytes(), ".csv", nil

	default:
		var b strings.Builder
		if item.Title != "" {
			b.WriteString(item.Title)
			b.WriteString("\n\n")
		}
		b.WriteString(item.Content)
		if !strings.HasSuffix(item.Content, "\n") {
			b.WriteString("\n")
		}
		return []byte(b.String()), ".txt", nil
	}
}

// Rows splits spreadsheet content into trimmed cells, one row per line.
func Rows(content string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, ",")
		for i, c := range cells {
			cells[i] = strings.TrimSpace(c)
		}
		rows = append(rows, cells)
	}
	return rows
}

// FileName is the item title made safe for a file system, suffixed with the
// item id so two items with one title do not collide.
func FileName(item workspace.Item, ext string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.TrimSpace(item.Title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 48 {
			break
		}
	}
	base := strings.Trim(b.String(), "-")
	if base == "" {
		base = string(item.Kind)
	}
	id := item.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if id != "" {
		base += "-" + id
	}
	return base + ext
}

func imageExt(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
