package chat

import (
	"fmt"
	"strconv"
	"strings"

	"AstroBot/bot/chat/flow"
	"AstroBot/entity"
)

// Normalize lowercases text and collapses whitespace for comparisons.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// MatchNumber converts "1", "2", ... to the option at that position.
func MatchNumber(text string, options []*flow.Option) *flow.Option {
	num, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || num < 1 || num > len(options) {
		return nil
	}
	return options[num-1]
}

// VisibleOptions are the options with a label; only these are rendered and
// numbered.
func VisibleOptions(step *flow.Step) []*flow.Option {
	out := make([]*flow.Option, 0, len(step.Options))
	for i := range step.Options {
		if step.Options[i].Label() != "" {
			out = append(out, &step.Options[i])
		}
	}
	return out
}

// FormatNumberedMenu renders options as a numbered text list for platforms
// without native buttons.
// Example output: "Pick one\n\n1. Horoscope\n2. Numerology"
func FormatNumberedMenu(text string, options []entity.RenderedOption, footer string) string {
	if len(options) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\n")
	for i, o := range options {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, o.Label))
	}
	if footer != "" {
		sb.WriteString("\n")
		sb.WriteString(footer)
	}
	return strings.TrimRight(sb.String(), "\n")
}
