package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocksToText(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "invalid json",
			doc:  `[{"type":`,
			want: "",
		},
		{
			name: "not an array",
			doc:  `{"type":"paragraph"}`,
			want: "",
		},
		{
			name: "empty document",
			doc:  `[]`,
			want: "",
		},
		{
			name: "heading levels",
			doc: `[{"type":"heading","props":{"level":2},"content":[{"type":"text","text":"Title","styles":{}}]},
			       {"type":"heading","content":["No level"]}]`,
			want: "## Title\n# No level",
		},
		{
			name: "lists",
			doc: `[{"type":"bulletListItem","content":["apples"]},
			       {"type":"numberedListItem","content":["first"]},
			       {"type":"numberedListItem","content":["second"]}]`,
			want: "- apples\n1. first\n1. second",
		},
		{
			name: "code block with language",
			doc:  `[{"type":"codeBlock","props":{"language":"go"},"content":["fmt.Println()"]}]`,
			want: "```go\nfmt.Println()\n```",
		},
		{
			name: "inline styles",
			doc: `[{"type":"paragraph","content":[
				{"type":"text","text":"a","styles":{"bold":true}},
				" ",
				{"type":"text","text":"b","styles":{"italic":true}},
				" ",
				{"type":"text","text":"c","styles":{"code":true}},
				" ",
				{"type":"text","text":"d","styles":{"strike":true}},
				" ",
				{"type":"text","text":"e","styles":{"bold":true,"italic":true,"code":true,"strike":true}}
			]}]`,
			want: "**a** *b* `c` ~~d~~ ~~`***e***`~~",
		},
		{
			name: "empty and null blocks are dropped",
			doc: `[{"type":"paragraph","content":[]},
			       null,
			       {"type":"paragraph","content":["kept"]},
			       {"type":"paragraph"}]`,
			want: "kept",
		},
		{
			name: "unknown block type renders as paragraph",
			doc:  `[{"type":"checkListItem","content":["todo"]}]`,
			want: "todo",
		},
		{
			name: "malformed block content is skipped",
			doc:  `[{"type":"table","content":{"rows":[]}},{"type":"paragraph","content":["after"]}]`,
			want: "after",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BlocksToText(tt.doc))
		})
	}
}

func TestTextToBlocks(t *testing.T) {
	src := "# Title\n\nHello **bold** and *it* with `code` and ~~gone~~.\n\n- one\n- two\n\n1. first\n\n```go\nfmt.Println()\n```\n"

	got, err := TextToBlocks(src)
	require.NoError(t, err)
	require.Len(t, got, 6)

	assert.Equal(t, Block{Type: Heading, Props: Props{Level: 1}, Content: []Inline{Text("Title")}}, got[0])

	assert.Equal(t, Paragraph, got[1].Type)
	assert.Equal(t, []Inline{
		Text("Hello "),
		{Type: "text", Text: "bold", Styles: Styles{Bold: true}},
		Text(" and "),
		{Type: "text", Text: "it", Styles: Styles{Italic: true}},
		Text(" with "),
		{Type: "text", Text: "code", Styles: Styles{Code: true}},
		Text(" and "),
		{Type: "text", Text: "gone", Styles: Styles{Strike: true}},
		Text("."),
	}, got[1].Content)

	assert.Equal(t, Block{Type: BulletListItem, Content: []Inline{Text("one")}}, got[2])
	assert.Equal(t, Block{Type: BulletListItem, Content: []Inline{Text("two")}}, got[3])
	assert.Equal(t, Block{Type: NumberedListItem, Content: []Inline{Text("first")}}, got[4])
	assert.Equal(t, Block{Type: CodeBlock, Props: Props{Language: "go"}, Content: []Inline{Text("fmt.Println()")}}, got[5])
}

func TestTextToBlocks_ReducesUnsupportedConstructs(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []Block
	}{
		{
			name: "deep heading clamps",
			src:  "##### Deep",
			want: []Block{{Type: Heading, Props: Props{Level: MaxHeadingLevel}, Content: []Inline{Text("Deep")}}},
		},
		{
			name: "nested list flattens",
			src:  "- a\n  - b",
			want: []Block{
				{Type: BulletListItem, Content: []Inline{Text("a")}},
				{Type: BulletListItem, Content: []Inline{Text("b")}},
			},
		},
		{
			name: "blockquote unwraps",
			src:  "> quoted",
			want: []Block{{Type: Paragraph, Content: []Inline{Text("quoted")}}},
		},
		{
			name: "link keeps label",
			src:  "see [the docs](https://example.com) now",
			want: []Block{{Type: Paragraph, Content: []Inline{Text("see the docs now")}}},
		},
		{
			name: "soft break kept",
			src:  "line one\nline two",
			want: []Block{{Type: Paragraph, Content: []Inline{Text("line one\nline two")}}},
		},
		{
			name: "thematic break dropped",
			src:  "above\n\n---\n\nbelow",
			want: []Block{
				{Type: Paragraph, Content: []Inline{Text("above")}},
				{Type: Paragraph, Content: []Inline{Text("below")}},
			},
		},
		{
			name: "empty input",
			src:  "",
			want: []Block{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TextToBlocks(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	src := "# Title\nHello **bold**, *it*, `code` and ~~gone~~\n- one\n- two\n1. first\n```go\nfmt.Println()\n```"

	parsed, err := TextToBlocks(src)
	require.NoError(t, err)

	doc, err := MarshalBlocks(parsed)
	require.NoError(t, err)

	assert.Equal(t, src, BlocksToText(doc))
}

func TestMarshalBlocks(t *testing.T) {
	doc, err := MarshalBlocks([]Block{{Type: Paragraph}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"paragraph","props":{},"content":[]}]`, doc)

	doc, err = MarshalBlocks(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", doc)
}
