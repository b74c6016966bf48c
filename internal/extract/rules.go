package extract

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Rule is one ranked candidate: Match picks nodes, Value reads the candidate
// text out of a matched node. Rules do not depend on a particular selector
// engine; Selector builds them from CSS for convenience.
type Rule struct {
	Name  string
	Match func(*html.Node) bool
	Value func(*html.Node) string
}

// Selector returns a rule matching the CSS selector sel. Meta elements yield
// their content attribute, everything else its trimmed text.
func Selector(sel string) Rule {
	s := cascadia.MustCompile(sel)
	return Rule{Name: sel, Match: s.Match, Value: metaOrText}
}

func selectors(sels ...string) []Rule {
	rules := make([]Rule, 0, len(sels))
	for _, s := range sels {
		rules = append(rules, Selector(s))
	}
	return rules
}

// Most specific first, generic tags after, page metadata last.
var (
	NameRules = selectors(
		`h1[class*="product"]`,
		`h1[class*="title"]`,
		`h1[class*="name"]`,
		`.product-title`,
		`.product-name`,
		`.item-title`,
		`.item-name`,
		`h1`,
		`.title`,
		`.name`,
		`meta[property="og:title"]`,
		`meta[name="twitter:title"]`,
	)

	PriceRules = selectors(
		`[class*="price"]`,
		`[class*="Price"]`,
		`.price`,
		`.Price`,
		`.product-price`,
		`.item-price`,
		`[data-testid*="price"]`,
		`[class*="currency"]`,
		`.currency`,
	)

	NotesRules = selectors(
		`.product-description`,
		`.item-description`,
		`.description`,
		`.summary`,
		`.details`,
		`[class*="description"]`,
		`[class*="summary"]`,
		`meta[name="description"]`,
		`meta[property="og:description"]`,
	)
)

func metaOrText(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "meta" {
		return attr(n, "content")
	}
	return strings.TrimSpace(textContent(n))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textContent concatenates every descendant text node, like the DOM
// property of the same name.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// first returns the first element in document order accepted by match.
func first(root *html.Node, match func(*html.Node) bool) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
		if n := first(c, match); n != nil {
			return n
		}
	}
	return nil
}

// each calls fn for every matching element in document order until fn
// returns false.
func each(root *html.Node, match func(*html.Node) bool, fn func(*html.Node) bool) bool {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			if !fn(c) {
				return false
			}
		}
		if !each(c, match, fn) {
			return false
		}
	}
	return true
}
