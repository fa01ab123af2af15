package source

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Head:     true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Blockquote: true, atom.Pre: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// htmlText returns the visible text of an HTML page and its <title>.
// Whitespace runs collapse to one space; block elements end a line.
func htmlText(r io.Reader) (content, title string) {
	z := html.NewTokenizer(r)

	var (
		sb      strings.Builder
		titleSB strings.Builder
		skip    int
		inTitle bool
	)
	newline := func() {
		s := sb.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			sb.WriteByte('\n')
		}
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a malformed tail; either way the text so far stands.
			return strings.TrimSpace(sb.String()), strings.Join(strings.Fields(titleSB.String()), " ")

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch {
			case tok.DataAtom == atom.Title:
				inTitle = true
			case skipped[tok.DataAtom]:
				if tok.Type == html.StartTagToken {
					skip++
				}
			case blocks[tok.DataAtom]:
				newline()
			}

		case html.EndTagToken:
			tok := z.Token()
			switch {
			case tok.DataAtom == atom.Title:
				inTitle = false
			case skipped[tok.DataAtom]:
				if skip > 0 {
					skip--
				}
			case blocks[tok.DataAtom]:
				newline()
			}

		case html.TextToken:
			raw := string(z.Text())
			if inTitle {
				titleSB.WriteString(raw)
				continue
			}
			if skip > 0 {
				continue
			}
			words := strings.Fields(raw)
			if len(words) == 0 {
				continue
			}
			s := sb.String()
			if s != "" && !strings.HasSuffix(s, "\n") && !strings.HasSuffix(s, " ") {
				sb.WriteByte(' ')
			}
			sb.WriteString(strings.Join(words, " "))
		}
	}
}
