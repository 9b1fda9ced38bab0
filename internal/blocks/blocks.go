// Package blocks converts between the editor's JSON block documents and the
// markdown-flavoured text sent to providers.
//
// The supported grammar is deliberately small: headings 1-3, bullet and
// numbered list items, fenced code with a language tag, paragraphs, and
// bold/italic/code/strikethrough spans.
package blocks

import (
	"bytes"
	"encoding/json"
)

type BlockType string

const (
	Paragraph        BlockType = "paragraph"
	Heading          BlockType = "heading"
	BulletListItem   BlockType = "bulletListItem"
	NumberedListItem BlockType = "numberedListItem"
	CodeBlock        BlockType = "codeBlock"
)

const MaxHeadingLevel = 3

type Block struct {
	Type    BlockType `json:"type"`
	Props   Props     `json:"props"`
	Content []Inline  `json:"content"`
}

type Props struct {
	Level    int    `json:"level,omitempty"`
	Language string `json:"language,omitempty"`
}

type Styles struct {
	Bold   bool `json:"bold,omitempty"`
	Italic bool `json:"italic,omitempty"`
	Code   bool `json:"code,omitempty"`
	Strike bool `json:"strike,omitempty"`
}

// Inline is a styled run of text. The editor may also emit bare strings,
// which decode as unstyled text.
type Inline struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Styles Styles `json:"styles"`
}

func (in *Inline) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = Inline{Type: "text", Text: s}
		return nil
	}
	if len(data) == 0 || data[0] != '{' {
		*in = Inline{}
		return nil
	}

	type plain Inline
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*in = Inline(p)
	return nil
}

// Text builds an unstyled inline run.
func Text(s string) Inline {
	return Inline{Type: "text", Text: s}
}

// MarshalBlocks renders blocks in the editor's document format.
func MarshalBlocks(blocks []Block) (string, error) {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		if b.Content == nil {
			b.Content = []Inline{}
		}
		out[i] = b
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
