package render

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"
)

const maxTermWidth = 120

// Terminal renders markdown for a terminal of the given width. The raw text
// is returned when glamour cannot render it.
func Terminal(content string, width int) string {
	if width <= 0 || width > maxTermWidth {
		width = maxTermWidth
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Debug().Err(err).Msg("terminal renderer unavailable")
		return content
	}

	out, err := r.Render(content)
	if err != nil {
		log.Debug().Err(err).Msg("terminal render failed")
		return content
	}
	return strings.TrimSuffix(out, "\n")
}
