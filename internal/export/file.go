package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/lotas/unicart/internal/applog"
	"github.com/lotas/unicart/internal/types"
)

// Format selects the artifact encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatJSONLZ4
	FormatMarkdown
)

func (f Format) ext() string {
	switch f {
	case FormatJSONLZ4:
		return ".json.lz4"
	case FormatMarkdown:
		return ".md"
	}
	return ".json"
}

// FileName returns the artifact name for an export made on date.
func FileName(date time.Time, f Format) string {
	return "shopping-cart-" + date.Format("2006-01-02") + f.ext()
}

// Write renders snap in format f into dir and returns the file path. An
// existing file for the same day is overwritten.
func Write(dir string, snap types.Snapshot, f Format) (string, error) {
	var body string
	switch f {
	case FormatMarkdown:
		body = Markdown(snap)
	default:
		s, err := JSON(snap)
		if err != nil {
			return "", fmt.Errorf("encode snapshot: %w", err)
		}
		body = s
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(snap.ExportedAt, f))
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}

	var w io.Writer = out
	var zw *lz4.Writer
	if f == FormatJSONLZ4 {
		zw = lz4.NewWriter(out)
		w = zw
	}
	if _, err := io.WriteString(w, body); err != nil {
		out.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			out.Close()
			return "", fmt.Errorf("compress %s: %w", path, err)
		}
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	applog.Info("export.write", "path", path, "items", snap.TotalItems)
	return path, nil
}

// Read returns the contents of an artifact written by Write, decompressing
// .lz4 files.
func Read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".lz4" {
		r = lz4.NewReader(f)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
