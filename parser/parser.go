package parser

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/shelfhelp/shelfhelp-ai/models"
	"golang.org/x/net/html"
)

// ExtractContent flattens an HTML or plain-text payload into a single
// lower-cased, whitespace-collapsed string for pattern search.
func ExtractContent(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	text := raw
	if looksLikeHTML(raw) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
		if err == nil {
			doc.Find("script, style, noscript").Remove()
			text = textNodes(doc.Nodes)
		}
	}
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// ExtractHeadings returns the trimmed text of headings and titled links,
// which on catalog search pages usually hold the result titles.
func ExtractHeadings(raw string) []string {
	if !looksLikeHTML(raw) {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("h1, h2, h3, h4, a[title]").Each(func(_ int, s *goquery.Selection) {
		text := s.AttrOr("title", "")
		if text == "" {
			text = s.Text()
		}
		text = strings.Join(strings.Fields(text), " ")
		if text != "" {
			out = append(out, text)
		}
	})
	return out
}

// Words splits text into lower-cased alphanumeric words.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// FindAll returns the patterns that occur in content, in pattern order.
func FindAll(content string, patterns []string) []string {
	var found []string
	for _, p := range patterns {
		if strings.Contains(content, p) {
			found = append(found, p)
		}
	}
	return found
}

// ContainsAny reports whether any pattern occurs in content.
func ContainsAny(content string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(content, p) {
			return true
		}
	}
	return false
}

// ValidateReport ensures a report carries enough to be written out.
func ValidateReport(r *models.AvailabilityReport) error {
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	if strings.TrimSpace(r.BookTitle) == "" && strings.TrimSpace(r.Author) == "" {
		return fmt.Errorf("report missing book title and author")
	}
	if len(r.Sources) == 0 {
		return fmt.Errorf("report for %q has no sources", r.BookTitle)
	}
	return nil
}

// RoundConfidence rounds to two decimals and clamps to [0,1].
func RoundConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return math.Round(v*100) / 100
}

// textNodes joins every text node with a space so adjacent block elements
// do not run their words together.
func textNodes(roots []*html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range roots {
		walk(n)
	}
	return b.String()
}

func looksLikeHTML(raw string) bool {
	i := strings.IndexByte(raw, '<')
	return i >= 0 && strings.IndexByte(raw[i:], '>') > 0
}
