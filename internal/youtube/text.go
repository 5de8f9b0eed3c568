package youtube

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var breakTags = strings.NewReplacer("<br>", " ", "<br/>", " ", "<br />", " ")

// CleanText strips markup and decodes entities from API text once,
// collapsing whitespace. "<br>" becomes a space.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(decode(breakTags.Replace(s))), " ")
}

// cleanCaption is CleanText plus a second decode for caption tracks, which
// are often entity-encoded twice.
func cleanCaption(s string) string {
	text := CleanText(s)
	if strings.Contains(text, "&") && strings.Contains(text, ";") {
		text = strings.Join(strings.Fields(decode(text)), " ")
	}
	return text
}

func decode(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}
