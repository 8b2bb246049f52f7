package driver

import (
	"bytes"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DecodeHTML reduces a status page to the parts drivers read:
//
//	{"tables": [{"title": "...", "rows": [["cell", ...], ...]}],
//	 "spans":  {"<id>": "text"}}
//
// A table whose first row holds a single cell uses that cell as its title.
// Cell text has its whitespace collapsed. Nested tables are decoded as
// separate tables.
func DecodeHTML(body []byte) (*gabs.Container, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := gabs.New()
	tables := []any{}
	spans := map[string]any{}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Table:
				tables = append(tables, decodeTable(n))
			case atom.Span:
				if id := attr(n, "id"); id != "" {
					spans[id] = nodeText(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if _, err := out.Set(tables, "tables"); err != nil {
		return nil, err
	}
	if _, err := out.Set(spans, "spans"); err != nil {
		return nil, err
	}

	return out, nil
}

func decodeTable(table *html.Node) map[string]any {
	var rows [][]string

	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Table:
				// belongs to the nested table
			case atom.Tr:
				rows = append(rows, rowCells(c))
			default:
				collect(c)
			}
		}
	}
	collect(table)

	title := ""
	if len(rows) > 0 && len(rows[0]) == 1 {
		title = rows[0][0]
		rows = rows[1:]
	}

	anyRows := make([]any, 0, len(rows))
	for _, r := range rows {
		cells := make([]any, len(r))
		for i, cell := range r {
			cells[i] = cell
		}
		anyRows = append(anyRows, cells)
	}

	return map[string]any{
		"title": title,
		"rows":  anyRows,
	}
}

func rowCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			cells = append(cells, nodeText(c))
		}
	}

	return cells
}

func nodeText(n *html.Node) string {
	var b strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}
