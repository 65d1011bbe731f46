package newsletter

import (
	"fmt"
	"strings"
)

// Render formats a document for delivery: the primary message is the issue
// header, and each section becomes one follow-up with linked bullet entries.
func Render(doc *Document) Message {
	msg := Message{
		Main: fmt.Sprintf("*📰 TLDR Newsletter - %s*\n%s", doc.Date, doc.Title),
	}

	for _, sec := range doc.Sections {
		var b strings.Builder
		fmt.Fprintf(&b, "*%s*\n\n", sec.Name)
		for _, a := range sec.Articles {
			fmt.Fprintf(&b, "• *<%s|%s>*\n", a.Link, a.Title)
			fmt.Fprintf(&b, "%s\n\n", a.Description)
		}
		msg.Sections = append(msg.Sections, b.String())
	}
	return msg
}

// RenderFlat joins the primary message and all sections into one payload for
// transports that cannot thread (incoming webhooks).
func RenderFlat(msg Message) string {
	parts := make([]string, 0, 1+len(msg.Sections))
	parts = append(parts, msg.Main)
	parts = append(parts, msg.Sections...)
	return strings.Join(parts, "\n\n")
}
