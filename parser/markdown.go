package parser

import (
	"strings"

	"github.com/gomarkdown/markdown/ast"
	mdparser "github.com/gomarkdown/markdown/parser"
)

// stripMarkdown renders markdown down to plain text, keeping paragraph
// boundaries so the paragraph splitter still finds them.
func stripMarkdown(data []byte) string {
	p := mdparser.New()
	doc := p.Parse(data)

	var b strings.Builder
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			switch node.(type) {
			case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.BlockQuote:
				b.WriteString("\n\n")
			}
			return ast.GoToNext
		}

		switch n := node.(type) {
		case *ast.Text:
			b.Write(n.Literal)
		case *ast.Code:
			b.Write(n.Literal)
		case *ast.CodeBlock:
			b.Write(n.Literal)
			b.WriteString("\n\n")
		case *ast.Softbreak, *ast.Hardbreak:
			b.WriteString(" ")
		}
		return ast.GoToNext
	})

	return strings.TrimSpace(b.String())
}
