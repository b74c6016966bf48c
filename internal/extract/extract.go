// Package extract finds a product name, price and description in an
// arbitrary HTML page using ranked rules. First acceptable match wins.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/lotas/unicart/internal/applog"
	"github.com/lotas/unicart/internal/price"
	"github.com/lotas/unicart/internal/types"
)

const (
	maxNameLen  = 200
	maxNotesLen = 500
	notesCut    = 200
	ellipsis    = "..."
)

// Extractor holds the ranked rule lists. The zero value is not usable; use
// Default or build one with custom rules.
type Extractor struct {
	Name  []Rule
	Price []Rule
	Notes []Rule
}

// Default uses the built-in rule lists.
var Default = Extractor{Name: NameRules, Price: PriceRules, Notes: NotesRules}

// Extract runs the default rules over doc.
func Extract(doc *html.Node) types.Extraction {
	return Default.Extract(doc)
}

// Extract scans doc for name, price and notes independently. Success is true
// iff a name was found. A panic inside a rule is recovered and reported as a
// failed extraction that keeps whatever fields were already filled.
func (e Extractor) Extract(doc *html.Node) (res types.Extraction) {
	defer func() {
		if r := recover(); r != nil {
			applog.Error("extract.panic", fmt.Errorf("%v", r))
			res.Success = false
		}
	}()
	if doc == nil {
		return res
	}

	res.Name = e.findText(doc, e.Name, maxNameLen)
	res.Price = e.findPrice(doc)
	if notes := e.findText(doc, e.Notes, maxNotesLen); notes != "" {
		res.Notes = truncateNotes(notes)
	}
	res.Success = res.Name != ""
	return res
}

func (e Extractor) findText(doc *html.Node, rules []Rule, max int) string {
	for _, r := range rules {
		n := first(doc, r.Match)
		if n == nil {
			continue
		}
		text := r.Value(n)
		if text != "" && utf8.RuneCountInString(text) < max {
			return text
		}
	}
	return ""
}

func (e Extractor) findPrice(doc *html.Node) float64 {
	var found float64
	for _, r := range e.Price {
		each(doc, r.Match, func(n *html.Node) bool {
			if p := price.Parse(r.Value(n)); p > 0 {
				found = p
				return false
			}
			return true
		})
		if found > 0 {
			return found
		}
	}
	return 0
}

func truncateNotes(s string) string {
	if utf8.RuneCountInString(s) <= notesCut {
		return s
	}
	runes := []rune(s)
	return string(runes[:notesCut]) + ellipsis
}

// Parse reads an HTML document and extracts from it.
func Parse(r io.Reader) (types.Extraction, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return types.Extraction{}, fmt.Errorf("parse html: %w", err)
	}
	return Extract(doc), nil
}

// Options tune Page.
type Options struct {
	// Readability enables the article-parser fallback for a missing name or
	// missing notes.
	Readability bool
}

// Page extracts from raw page bytes. With the zero Options it is Parse.
// Readability is only enabled for pages the CLI downloads itself: the
// article title then stands in for a missing name and the readable text for
// missing notes, so a page with nothing but a title counts as a product.
// The ranked rules always take precedence.
func Page(raw []byte, pageURL string, opts Options) (types.Extraction, error) {
	res, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return res, err
	}
	if !opts.Readability || (res.Success && res.Notes != "") {
		return res, nil
	}

	var u *url.URL
	if pageURL != "" {
		u, _ = url.Parse(pageURL)
	}
	article, err := readability.FromReader(bytes.NewReader(raw), u)
	if err != nil {
		applog.Warn("extract.readability", "url", pageURL, "err", err)
		return res, nil
	}

	if res.Name == "" {
		title := strings.TrimSpace(article.Title)
		if title != "" && utf8.RuneCountInString(title) < maxNameLen {
			res.Name = title
			res.Success = true
		}
	}
	if res.Notes == "" {
		if text := strings.Join(strings.Fields(article.TextContent), " "); text != "" {
			res.Notes = truncateNotes(text)
		}
	}
	return res, nil
}
