package tutor

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/virtualcafe/cafe/internal/chat"
)

var (
	boldPattern   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.*?)\*`)

	boldStyle   = lipgloss.NewStyle().Bold(true)
	italicStyle = lipgloss.NewStyle().Italic(true)
)

// Format renders a reply for the terminal: **bold** and *italic* markers
// become styles, and paragraphs are separated by one blank line.
func Format(text string) string {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		var lines []string
		for _, line := range strings.Split(p, "\n") {
			line = chat.Sanitize(line)
			line = boldPattern.ReplaceAllStringFunc(line, func(m string) string {
				return boldStyle.Render(m[2 : len(m)-2])
			})
			line = italicPattern.ReplaceAllStringFunc(line, func(m string) string {
				return italicStyle.Render(m[1 : len(m)-1])
			})
			lines = append(lines, line)
		}
		if joined := strings.TrimSpace(strings.Join(lines, "\n")); joined != "" {
			paragraphs = append(paragraphs, joined)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}
