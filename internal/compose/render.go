package compose

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// Renderer turns the plain (markdown) message into the rich form sent as formatted body.
type Renderer interface {
	Render(markdown string) (string, error)
}

// Markdown renders CommonMark to HTML. Raw HTML in the input is omitted.
type Markdown struct {
	md goldmark.Markdown
}

func NewMarkdown() *Markdown {
	return &Markdown{md: goldmark.New()}
}

func (m *Markdown) Render(src string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
