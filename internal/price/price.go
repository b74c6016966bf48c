// Package price turns free page text into a monetary amount and formats
// totals for display.
package price

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/lotas/unicart/internal/types"
)

// Max is the exclusive upper bound for an accepted amount. Larger numbers
// are almost always SKUs, phone numbers or years glued to a price label.
const Max = 1_000_000

var labelWords = regexp.MustCompile(`(?i)price|cost|total|amount`)

// patterns are tried in order; the first one with any match is scanned.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`\$[\d,]+\.?\d*`),
	regexp.MustCompile(`€[\d,]+\.?\d*`),
	regexp.MustCompile(`£[\d,]+\.?\d*`),
	regexp.MustCompile(`(?i)[\d,]+\.?\d*\s*(dollars?|euros?|pounds?)`),
	regexp.MustCompile(`[\d,]+\.?\d*`),
}

var (
	symbols       = strings.NewReplacer("$", "", "€", "", "£", "", ",", "")
	leadingNumber = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)`)
)

// Parse returns the first plausible amount found in text, or 0.
//
//	Parse("Price: $19.99")  // 19.99
//	Parse("Only €5")        // 5
//	Parse("SKU 1000000")    // 0
func Parse(text string) float64 {
	clean := strings.TrimSpace(labelWords.ReplaceAllString(text, ""))
	if clean == "" {
		return 0
	}

	for _, re := range patterns {
		matches := re.FindAllString(clean, -1)
		for _, m := range matches {
			if n, ok := amount(m); ok {
				return n
			}
		}
	}
	return 0
}

func amount(match string) (float64, bool) {
	s := strings.TrimSpace(symbols.Replace(match))
	num := leadingNumber.FindString(s)
	if num == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(num, "."), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	if n <= 0 || n >= Max {
		return 0, false
	}
	return n, true
}

var currencySymbols = map[types.Currency]string{
	types.EUR: "€",
	types.USD: "$",
	types.JPY: "¥",
	types.GBP: "£",
}

// Symbol returns the display symbol for c, falling back to the code itself.
func Symbol(c types.Currency) string {
	if s, ok := currencySymbols[c]; ok {
		return s
	}
	return string(c)
}

// Format renders amount with the currency label and exactly two decimals.
func Format(amount float64, c types.Currency) string {
	return fmt.Sprintf("%s%.2f", Symbol(c), amount)
}

// Total is the plain arithmetic sum of item prices. No conversion happens.
func Total(items []types.Item) float64 {
	var sum float64
	for _, it := range items {
		sum += it.Price
	}
	return sum
}

// CountLabel renders "1 item" / "3 items".
func CountLabel(n int) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}
