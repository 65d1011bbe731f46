package newsletter

import "errors"

// Document is one parsed newsletter issue. Produced fresh each run and never
// persisted. Section and article order follows the source page.
type Document struct {
	Date     string
	Title    string
	Sections []Section
}

type Section struct {
	Name     string
	Articles []Article
}

type Article struct {
	Title       string
	Link        string
	Description string
}

// Message is the rendered delivery payload: one primary line plus one
// follow-up per surviving section.
type Message struct {
	Main     string
	Sections []string
}

var (
	// ErrFetch means the remote page was unreachable or returned a bad status.
	ErrFetch = errors.New("newsletter fetch failed")

	// ErrParse means the page yielded no section with usable articles.
	ErrParse = errors.New("newsletter parse failed")
)

// DefaultURL is the canonical newsletter page.
const DefaultURL = "https://tldr.tech/api/latest/tech"

// defaultSectionName labels section blocks that carry no heading of their own.
const defaultSectionName = "Miscellaneous"

// DefaultDenylist drops promotional/recruitment entries. Matching is a
// case-insensitive substring check against title and description.
var DefaultDenylist = []string{
	"hiring",
	"sponsor",
	"recruit",
	"advertise",
	"job board",
}
