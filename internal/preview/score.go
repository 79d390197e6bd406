// Package preview scores and merges product previews across extraction
// stages.
package preview

import "github.com/wishwell/preview-service/internal/model"

// Confidence weights. Price only counts when the currency is also known,
// since a bare number is not displayable.
const (
	weightTitle       = 0.35
	weightImage       = 0.25
	weightPrice       = 0.25
	weightDescription = 0.10
)

// Escalation thresholds for the second and third extraction stages.
// Stage 3 is near-maximal: it is the slowest and most expensive stage and
// should only run when the cheaper stages left the result clearly
// incomplete.
const (
	Stage2Threshold = 0.75
	Stage3Threshold = 0.95
)

// Score recomputes the confidence of p from its populated fields and
// appends a warning per missing core field. A description identical to the
// title is dropped: it carries no information and would inflate the
// apparent completeness. Returns p for chaining.
func Score(p *model.ProductPreview) *model.ProductPreview {
	if p.Description != "" && p.Description == p.Title {
		p.Description = ""
	}

	confidence := 0.0
	if p.Title != "" {
		confidence += weightTitle
	} else {
		p.Warn("no title found")
	}
	if p.Image != "" {
		confidence += weightImage
	} else {
		p.Warn("no image found")
	}
	if p.HasPrice() && p.Currency != "" {
		confidence += weightPrice
	} else {
		p.Warn("no price or currency found")
	}
	if p.Description != "" {
		confidence += weightDescription
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	p.Confidence = confidence
	return p
}

// NeedsBetterData reports whether the next, more expensive stage should
// run: confidence below the threshold, or any core field still missing.
func NeedsBetterData(p *model.ProductPreview, threshold float64) bool {
	if p.Confidence < threshold {
		return true
	}
	return p.Title == "" || p.Image == "" || !p.HasPrice() || p.Currency == ""
}
