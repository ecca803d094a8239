package updater

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// MarkdownRenderer turns markdown text into HTML.
type MarkdownRenderer interface {
	Render(markdown string) (string, error)
}

// GoldmarkRenderer renders GitHub flavoured markdown with goldmark.
type GoldmarkRenderer struct {
	md goldmark.Markdown
}

// NewGoldmarkRenderer returns a renderer with the GFM extensions enabled.
func NewGoldmarkRenderer() *GoldmarkRenderer {
	return &GoldmarkRenderer{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// Render converts markdown to HTML.
func (r *GoldmarkRenderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
