package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ReadHTML extracts tables and paragraph-like blocks from an HTML
// schedule page. Cell text keeps its line structure: <br> and nested
// block elements become newlines, matching what the docx reader
// produces for multi-paragraph cells.
func ReadHTML(r io.Reader) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parser: parse html: %w", err)
	}

	doc := &Document{}

	gq.Find("table").Each(func(_ int, tb *goquery.Selection) {
		if tb.ParentsFiltered("table").Length() > 0 {
			return
		}
		var table Table
		tb.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			if tr.Closest("table").Get(0) != tb.Get(0) {
				return
			}
			var row []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				if cell.Closest("tr").Get(0) != tr.Get(0) {
					return
				}
				row = append(row, strings.TrimRight(nodeText(cell), "\n"))
			})
			if len(row) > 0 {
				table.Rows = append(table.Rows, row)
			}
		})
		if len(table.Rows) > 0 {
			doc.Tables = append(doc.Tables, table)
		}
	})

	gq.Find("p, li, h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("table").Length() > 0 {
			return
		}
		if text := nodeText(s); strings.TrimSpace(text) != "" {
			doc.Paragraphs = append(doc.Paragraphs, text)
		}
	})

	return doc, nil
}

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true,
	"tr": true, "table": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true,
}

// nodeText renders a selection as text with newlines at <br> and
// block-element boundaries.
func nodeText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeNodeText(&b, n)
	}
	return b.String()
}

func writeNodeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
	case html.ElementNode:
		if n.Data == "br" {
			b.WriteByte('\n')
			return
		}
		block := blockTags[n.Data]
		if block && b.Len() > 0 {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNodeText(b, c)
		}
		if block {
			b.WriteByte('\n')
		}
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNodeText(b, c)
		}
	}
}
