package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Heuristic price scan over raw HTML. Many storefronts render price only as
// visual markup with no structured metadata, so this collects dollar
// amounts and JSON price fields with their surrounding context, discards
// struck-through list prices, and scores the rest by document position and
// buy-box hints. Tuned against retailer pages observed at write time; the
// most likely source of extraction drift when sites redesign.

var (
	dollarAmountRe = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?)`)
	jsonPriceRe    = regexp.MustCompile(`"(?:price|priceAmount|amount)"\s*:\s*"?(\d+(?:\.\d{1,2})?)"?`)
)

// Context words indicating a list/strikethrough/MSRP price rather than the
// price actually charged.
var excludeContextWords = []string{
	"list", "msrp", "was", "original", "typical", "strikethrough",
}

// Context words suggesting buy-box or sale/current pricing.
var preferContextWords = []string{
	"buybox", "buy-box", "pricetopay", "apexprice", "dealprice",
	"saleprice", "sale", "current", "our price",
}

const priceContextRadius = 40

type priceCandidate struct {
	value   float64
	pos     int
	context string
}

// ScanPrice returns the best price candidate found in raw HTML, or false
// when nothing usable is present.
func ScanPrice(html string) (float64, bool) {
	candidates := collectPriceCandidates(html)
	if len(candidates) == 0 {
		return 0, false
	}

	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		score := scorePriceCandidate(c, len(html))
		if score < 0 {
			continue
		}
		if best == -1 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best == -1 {
		return 0, false
	}
	return candidates[best].value, true
}

func collectPriceCandidates(html string) []priceCandidate {
	var out []priceCandidate
	seen := make(map[int]bool)

	for _, re := range []*regexp.Regexp{dollarAmountRe, jsonPriceRe} {
		for _, m := range re.FindAllStringSubmatchIndex(html, -1) {
			start := m[0]
			if seen[start] {
				continue
			}
			seen[start] = true

			raw := strings.ReplaceAll(html[m[2]:m[3]], ",", "")
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil || value <= 0 {
				continue
			}

			ctxStart := max(0, start-priceContextRadius)
			ctxEnd := min(len(html), m[1]+priceContextRadius)

			out = append(out, priceCandidate{
				value:   value,
				pos:     start,
				context: strings.ToLower(html[ctxStart:ctxEnd]),
			})
		}
	}
	return out
}

// scorePriceCandidate returns a negative score for excluded candidates.
// Earlier document position and buy-box context raise the score; values
// over 1000 are penalized as likely SKU numbers or bundle totals.
func scorePriceCandidate(c priceCandidate, docLen int) float64 {
	for _, w := range excludeContextWords {
		if strings.Contains(c.context, w) {
			return -1
		}
	}

	score := 1.0 - float64(c.pos)/float64(docLen)
	for _, w := range preferContextWords {
		if strings.Contains(c.context, w) {
			score += 1.0
			break
		}
	}
	if c.value > 1000 {
		score -= 0.75
	}
	return score
}
