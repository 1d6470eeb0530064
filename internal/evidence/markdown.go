package evidence

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the readable part of a fetched HTML page.
type Page struct {
	Title       string
	Description string
	Markdown    string
}

// skipped subtrees never contribute text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Template: true,
}

// ParsePage extracts the title, meta description and a markdown rendering
// of the body.
func ParsePage(raw string) (Page, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	var p Page
	var body *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch n.DataAtom {
		case atom.Title:
			if p.Title == "" {
				p.Title = collapse(textOf(n))
			}
		case atom.Meta:
			if strings.EqualFold(attr(n, "name"), "description") && p.Description == "" {
				p.Description = collapse(attr(n, "content"))
			}
		case atom.Body:
			body = n
			return false
		}
		return true
	})
	if body == nil {
		body = doc
	}
	var w mdWriter
	w.node(body)
	p.Markdown = cleanMarkdown(w.String())
	return p, nil
}

// walk visits n depth first; visit returning false skips the children.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && skipped[c.DataAtom] {
			return false
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

type mdWriter struct {
	strings.Builder
	listDepth int
}

func (w *mdWriter) block() {
	w.WriteString("\n\n")
}

func (w *mdWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.node(c)
	}
}

func (w *mdWriter) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if t := collapse(n.Data); t != "" {
			if strings.HasPrefix(n.Data, " ") || strings.HasPrefix(n.Data, "\n") {
				w.WriteByte(' ')
			}
			w.WriteString(t)
			if strings.HasSuffix(n.Data, " ") || strings.HasSuffix(n.Data, "\n") {
				w.WriteByte(' ')
			}
		}
		return
	case html.ElementNode:
	default:
		w.children(n)
		return
	}
	if skipped[n.DataAtom] {
		return
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		w.block()
		w.WriteString(strings.Repeat("#", level) + " " + collapse(textOf(n)))
		w.block()
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main, atom.Table, atom.Blockquote:
		w.block()
		w.children(n)
		w.block()
	case atom.Br:
		w.WriteString("\n")
	case atom.Tr:
		w.WriteString("\n")
		w.children(n)
	case atom.Td, atom.Th:
		w.WriteString(" | ")
		w.children(n)
	case atom.Ul, atom.Ol:
		w.listDepth++
		w.WriteString("\n")
		w.children(n)
		w.listDepth--
		w.WriteString("\n")
	case atom.Li:
		w.WriteString("\n" + strings.Repeat("  ", max(w.listDepth-1, 0)) + "- ")
		w.children(n)
	case atom.Pre:
		w.block()
		w.WriteString("```\n" + strings.Trim(textOf(n), "\n") + "\n```")
		w.block()
	case atom.Code:
		w.WriteString("`" + collapse(textOf(n)) + "`")
	case atom.Strong, atom.B:
		if t := collapse(textOf(n)); t != "" {
			w.WriteString("**" + t + "**")
		}
	case atom.Em, atom.I:
		if t := collapse(textOf(n)); t != "" {
			w.WriteString("_" + t + "_")
		}
	case atom.A:
		text := collapse(textOf(n))
		href := attr(n, "href")
		switch {
		case text == "":
		case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
			w.WriteString("[" + text + "](" + href + ")")
		default:
			w.WriteString(text)
		}
	case atom.Img:
		if alt := collapse(attr(n, "alt")); alt != "" {
			w.WriteString(alt)
		}
	default:
		w.children(n)
	}
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

func cleanMarkdown(s string) string {
	s = trailingSpace.ReplaceAllString(s, "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if !strings.HasPrefix(l, "  ") || !strings.HasPrefix(strings.TrimLeft(l, " "), "- ") {
			lines[i] = strings.TrimLeft(l, " ")
		}
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ParseResultLinks returns up to limit organic result URLs from a
// DuckDuckGo results page. Both the scripted page (organic list items) and
// the lite page (result-link anchors) are understood.
func ParseResultLinks(raw string, limit int) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	var urls []string
	seen := map[string]bool{}
	add := func(href string) {
		href = unwrapRedirect(href)
		if !strings.HasPrefix(href, "http") || seen[href] {
			return
		}
		seen[href] = true
		urls = append(urls, href)
	}
	var organic func(n *html.Node, inOrganic bool)
	organic = func(n *html.Node, inOrganic bool) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Li && attr(n, "data-layout") == "organic" {
				inOrganic = true
			}
			if n.DataAtom == atom.A {
				if (inOrganic && attr(n, "data-testid") == "result-title-a") || hasClass(n, "result-link") {
					add(attr(n, "href"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			organic(c, inOrganic)
		}
	}
	organic(doc, false)
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	return urls, nil
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg= click-through links.
func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil || !strings.HasSuffix(u.Host, "duckduckgo.com") || u.Path != "/l/" {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
