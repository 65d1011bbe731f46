package newsletter

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse extracts the issue header and article sections from the newsletter
// page. Articles whose title or description match a denylisted keyword are
// dropped; sections with no surviving articles are dropped. Order follows
// the page.
func Parse(r io.Reader, denylist []string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	doc := &Document{
		Date:  strings.TrimPrefix(textOfFirst(root, atom.H1), "TLDR "),
		Title: textOfFirst(root, atom.H2),
	}

	for _, sec := range elementsOf(root, atom.Section) {
		articles := elementsOf(sec, atom.Article)
		if len(articles) == 0 {
			continue
		}

		name := sectionLabel(sec)
		if name == "" {
			name = defaultSectionName
		}

		var kept []Article
		for _, an := range articles {
			a, ok := parseArticle(an)
			if !ok {
				continue
			}
			if denied(a, denylist) {
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) > 0 {
			doc.Sections = append(doc.Sections, Section{Name: name, Articles: kept})
		}
	}

	if len(doc.Sections) == 0 {
		return nil, fmt.Errorf("%w: no usable articles", ErrParse)
	}
	return doc, nil
}

func parseArticle(n *html.Node) (Article, bool) {
	a := Article{
		Title:       textOfFirst(n, atom.H3),
		Link:        articleLink(n),
		Description: strings.TrimSpace(textOf(firstByClass(n, atom.Div, "newsletter-html"))),
	}
	if a.Title == "" || a.Description == "" {
		return Article{}, false
	}
	return a, true
}

// articleLink prefers the bolded headline anchor; any anchor with an href is
// an acceptable fallback.
func articleLink(n *html.Node) string {
	if el := firstByClass(n, atom.A, "font-bold"); el != nil {
		if href := attr(el, "href"); href != "" {
			return href
		}
	}
	for _, el := range elementsOf(n, atom.A) {
		if href := attr(el, "href"); href != "" {
			return href
		}
	}
	return ""
}

// sectionLabel returns the text of the first heading that belongs to the
// section itself, not to one of its articles.
func sectionLabel(sec *html.Node) string {
	var label string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if label != "" {
			return
		}
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Article {
				return
			}
			if n.DataAtom == atom.H3 || n.DataAtom == atom.H2 {
				label = strings.TrimSpace(textOf(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := sec.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return label
}

func denied(a Article, denylist []string) bool {
	title := strings.ToLower(a.Title)
	desc := strings.ToLower(a.Description)
	for _, kw := range denylist {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(title, kw) || strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

// ---- DOM helpers ----

// elementsOf returns all descendant elements with the given atom, in
// document order. It does not descend into matched elements.
func elementsOf(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

func firstByClass(n *html.Node, a atom.Atom, class string) *html.Node {
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == a && hasClass(n, class) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func hasClass(n *html.Node, class string) bool {
	for _, at := range n.Attr {
		if at.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(at.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, at := range n.Attr {
		if at.Key == key {
			return strings.TrimSpace(at.Val)
		}
	}
	return ""
}

func textOfFirst(n *html.Node, a atom.Atom) string {
	els := elementsOf(n, a)
	if len(els) == 0 {
		return ""
	}
	return strings.TrimSpace(textOf(els[0]))
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	// Collapse runs of whitespace left behind by markup.
	return strings.Join(strings.Fields(b.String()), " ")
}
