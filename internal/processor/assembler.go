package processor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Document is a converted PDF.
type Document struct {
	Filename string           `json:"filename"`
	Pages    []PageTranscript `json:"pages"`
}

// Markdown renders the whole document.
func (d *Document) Markdown() string {
	return AssembleDocument(d)
}

var markerEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`, "~", `\~`,
	"[", `\[`, "]", `\]`, "<", `\<`, ">", `\>`,
)

// FailureMarker is how a failed region shows up in the output: a one-line
// blockquote that survives HTML rendering. The reason is flattened to a
// single line with Markdown punctuation escaped.
func FailureMarker(f Fragment) string {
	reason := strings.Join(strings.Fields(f.Reason), " ")
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("> **pdf2md error** (region %d, %s): %s", f.Index, f.Type, markerEscaper.Replace(reason))
}

// Assemble joins fragments with exactly one blank line between them.
// Dropped fragments are skipped.
func Assemble(fragments []Fragment) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		switch f.Status {
		case StatusDropped:
			continue
		case StatusFailed:
			parts = append(parts, FailureMarker(f))
		default:
			parts = append(parts, strings.TrimRight(f.Text, "\n"))
		}
	}
	return strings.Join(parts, "\n\n")
}

// AssembleDocument flattens the pages of doc in order.
func AssembleDocument(doc *Document) string {
	if doc == nil {
		return ""
	}
	var all []Fragment
	for _, p := range doc.Pages {
		all = append(all, p.Fragments...)
	}
	return Assemble(all)
}

// WriteFile writes text to path, creating parent directories.
func WriteFile(path, text string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts assembled Markdown to HTML.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
