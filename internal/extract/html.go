package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// chrome junk that never carries document content
var strippedSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside", "form",
	".cookie-banner", ".cookie-consent", "#cookie-banner",
}

// contentSelectors are tried in order; the first non-empty match wins
// over the raw body so boilerplate around the article is skipped.
var contentSelectors = []string{
	"main", "article", "[role='main']", "#content", ".content",
}

// ExtractHTML strips boilerplate from a fetched page and returns its
// readable text plus the page title.
func ExtractHTML(html string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("%w: html parse: %v", ErrExtraction, err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	for _, sel := range strippedSelectors {
		doc.Find(sel).Remove()
	}

	var root *goquery.Selection
	for _, sel := range contentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			root = s
			break
		}
	}
	if root == nil {
		root = doc.Find("body")
	}

	text = normalize(blockText(root))
	if text == "" {
		return title, "", ErrEmptyContent
	}
	return title, text, nil
}

// blockText renders block-level elements on their own lines instead of
// goquery's Text() which glues everything together.
func blockText(s *goquery.Selection) string {
	var sb strings.Builder
	s.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, el *goquery.Selection) {
		// Skip containers whose text is already covered by a nested match
		if el.Find("p, li").Length() > 0 {
			return
		}
		line := strings.Join(strings.Fields(el.Text()), " ")
		if line == "" {
			return
		}
		sb.WriteString(line)
		sb.WriteString("\n\n")
	})

	if sb.Len() == 0 {
		return strings.Join(strings.Fields(s.Text()), " ")
	}
	return sb.String()
}
