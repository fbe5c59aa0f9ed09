package telegram

import (
	"regexp"
	"strings"
)

// MaxMessageLength is Telegram's practical per-message limit; longer
// output is split at the nearest preceding newline.
const MaxMessageLength = 4000

var (
	headingPattern    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	boldPattern       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	imagePattern      = regexp.MustCompile(`!\[[^\]]*\]\(([^)]+)\)`)
	blockquotePattern = regexp.MustCompile(`(?m)^>\s?(.*)$`)
	hrulePattern      = regexp.MustCompile(`(?m)^(\s*)(---+|\*\*\*+|___+)(\s*)$`)
)

// NormalizeMarkdown coerces model output to Telegram's legacy Markdown
// dialect: headings become bold lines, `**x**` becomes `*x*`, images
// collapse to their URL, blockquotes are drawn with a bar prefix, and
// horizontal rules become a dash run.
func NormalizeMarkdown(text string) string {
	out := headingPattern.ReplaceAllString(text, "*$1*")
	out = boldPattern.ReplaceAllString(out, "*$1*")
	out = imagePattern.ReplaceAllString(out, "$1")
	out = blockquotePattern.ReplaceAllString(out, "│ $1")
	out = hrulePattern.ReplaceAllString(out, "———")
	return out
}

// SplitMessage breaks text into pieces of at most MaxMessageLength,
// preferring to break at the newline nearest before the limit and
// falling back to a hard break when a piece has no newline at all.
func SplitMessage(text string) []string {
	if len(text) <= MaxMessageLength {
		return []string{text}
	}

	var parts []string
	remaining := text
	for len(remaining) > MaxMessageLength {
		cut := strings.LastIndexByte(remaining[:MaxMessageLength], '\n')
		if cut <= 0 {
			cut = MaxMessageLength
		}
		parts = append(parts, strings.TrimRight(remaining[:cut], "\n"))
		remaining = strings.TrimLeft(remaining[cut:], "\n")
	}
	if remaining != "" {
		parts = append(parts, remaining)
	}
	return parts
}
