package renderer

import (
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"

	"github.com/jenian/iswith/internal/config"
)

// RenderMarkdown renders markdown content for terminal output
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(content)
}

// Write prints markdown content in the given text format: rendered for the
// terminal, or as is for plain output.
func Write(w io.Writer, format, content string) error {
	switch format {
	case config.FormatMarkdown:
		rendered, err := RenderMarkdown(content)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, rendered)
		return err
	case config.FormatPlain:
		_, err := io.WriteString(w, content)
		return err
	}
	return fmt.Errorf("unsupported text format %q", format)
}
