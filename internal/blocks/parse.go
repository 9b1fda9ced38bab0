package blocks

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// TextToBlocks parses markdown into editor blocks. Constructs outside the
// supported grammar are reduced to their text: block quotes unwrap into
// their paragraphs, links keep their label, and nested lists are flattened.
func TextToBlocks(src string) ([]Block, error) {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	c := &converter{source: source, blocks: []Block{}}
	if err := c.blockChildren(doc); err != nil {
		return nil, err
	}
	return c.blocks, nil
}

type converter struct {
	source []byte
	blocks []Block
}

func (c *converter) blockChildren(parent ast.Node) error {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if err := c.block(n); err != nil {
			return err
		}
	}
	return nil
}

func (c *converter) block(n ast.Node) error {
	switch node := n.(type) {
	case *ast.Heading:
		level := node.Level
		if level > MaxHeadingLevel {
			level = MaxHeadingLevel
		}
		c.add(Block{Type: Heading, Props: Props{Level: level}, Content: c.inlines(node)})

	case *ast.Paragraph, *ast.TextBlock:
		c.add(Block{Type: Paragraph, Content: c.inlines(node)})

	case *ast.List:
		kind := BulletListItem
		if node.IsOrdered() {
			kind = NumberedListItem
		}
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			if err := c.listItem(item, kind); err != nil {
				return err
			}
		}

	case *ast.FencedCodeBlock:
		c.add(Block{
			Type:    CodeBlock,
			Props:   Props{Language: string(node.Language(c.source))},
			Content: []Inline{Text(c.lines(node))},
		})

	case *ast.CodeBlock:
		c.add(Block{Type: CodeBlock, Content: []Inline{Text(c.lines(node))}})

	case *ast.Blockquote:
		return c.blockChildren(node)

	case *ast.HTMLBlock:
		c.add(Block{Type: Paragraph, Content: []Inline{Text(c.lines(node))}})

	case *ast.ThematicBreak:
		// no block equivalent

	default:
		return fmt.Errorf("unsupported markdown node %s", n.Kind())
	}
	return nil
}

// listItem emits the item's own text as one block, then any nested lists.
func (c *converter) listItem(item ast.Node, kind BlockType) error {
	var content []Inline
	for child := item.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			if len(content) > 0 {
				content = appendRun(content, Text("\n"))
			}
			for _, in := range c.inlines(child) {
				content = appendRun(content, in)
			}
		}
	}
	c.add(Block{Type: kind, Content: content})

	for child := item.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			continue
		}
		if err := c.block(child); err != nil {
			return err
		}
	}
	return nil
}

func (c *converter) add(b Block) {
	if b.Content == nil {
		b.Content = []Inline{}
	}
	c.blocks = append(c.blocks, b)
}

func (c *converter) lines(n ast.Node) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(c.source))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func (c *converter) inlines(parent ast.Node) []Inline {
	var out []Inline
	c.walkInline(parent, Styles{}, &out)
	return out
}

func (c *converter) walkInline(parent ast.Node, st Styles, out *[]Inline) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Text:
			*out = appendRun(*out, Inline{Type: "text", Text: string(node.Segment.Value(c.source)), Styles: st})
			if node.SoftLineBreak() || node.HardLineBreak() {
				*out = appendRun(*out, Inline{Type: "text", Text: "\n", Styles: st})
			}
		case *ast.String:
			*out = appendRun(*out, Inline{Type: "text", Text: string(node.Value), Styles: st})
		case *ast.Emphasis:
			inner := st
			if node.Level >= 2 {
				inner.Bold = true
			} else {
				inner.Italic = true
			}
			c.walkInline(node, inner, out)
		case *ast.CodeSpan:
			inner := st
			inner.Code = true
			c.walkInline(node, inner, out)
		case *extast.Strikethrough:
			inner := st
			inner.Strike = true
			c.walkInline(node, inner, out)
		case *ast.AutoLink:
			*out = appendRun(*out, Inline{Type: "text", Text: string(node.Label(c.source)), Styles: st})
		case *ast.RawHTML:
			var sb strings.Builder
			for i := 0; i < node.Segments.Len(); i++ {
				seg := node.Segments.At(i)
				sb.Write(seg.Value(c.source))
			}
			*out = appendRun(*out, Inline{Type: "text", Text: sb.String(), Styles: st})
		default:
			// Links, images and anything else contribute their child text.
			c.walkInline(node, st, out)
		}
	}
}

// appendRun merges in into the previous run when the styles match.
func appendRun(runs []Inline, in Inline) []Inline {
	if in.Text == "" {
		return runs
	}
	if n := len(runs); n > 0 && runs[n-1].Styles == in.Styles {
		runs[n-1].Text += in.Text
		return runs
	}
	return append(runs, in)
}
