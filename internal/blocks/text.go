package blocks

import (
	"encoding/json"
	"strings"
)

// BlocksToText flattens a JSON block document into markdown-style text.
// Blocks are joined by newlines and empty blocks are dropped. A document that
// is not a JSON array yields "".
func BlocksToText(doc string) string {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return ""
	}

	parts := make([]string, 0, len(raw))
	for _, r := range raw {
		var b Block
		if err := json.Unmarshal(r, &b); err != nil {
			continue
		}
		if s := b.Markdown(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Markdown renders a single block.
func (b Block) Markdown() string {
	text := InlineMarkdown(b.Content)

	switch b.Type {
	case Heading:
		level := b.Props.Level
		if level < 1 {
			level = 1
		}
		return strings.Repeat("#", level) + " " + text
	case BulletListItem:
		return "- " + text
	case NumberedListItem:
		return "1. " + text
	case CodeBlock:
		return "```" + b.Props.Language + "\n" + text + "\n```"
	default:
		return text
	}
}

// InlineMarkdown concatenates runs, wrapping each in its style markers.
// Bold is innermost and strikethrough outermost.
func InlineMarkdown(content []Inline) string {
	var sb strings.Builder
	for _, in := range content {
		s := in.Text
		if in.Styles.Bold {
			s = "**" + s + "**"
		}
		if in.Styles.Italic {
			s = "*" + s + "*"
		}
		if in.Styles.Code {
			s = "`" + s + "`"
		}
		if in.Styles.Strike {
			s = "~~" + s + "~~"
		}
		sb.WriteString(s)
	}
	return sb.String()
}
