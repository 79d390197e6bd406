package preview

import (
	"regexp"
	"strings"

	"github.com/wishwell/preview-service/internal/model"
)

// Retailer boilerplate stripped from titles and descriptions. Storefronts
// prepend or append their brand to page titles, which pollutes the preview.
var (
	boilerplatePrefixes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^amazon\.(?:com|co\.[a-z]{2}|[a-z]{2,3})\s*:\s*`),
		regexp.MustCompile(`(?i)^walmart\.com\s*:\s*`),
		regexp.MustCompile(`(?i)^buy\s+`),
	}
	boilerplateSuffixes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s*[|\-–:]\s*amazon\.(?:com|co\.[a-z]{2}|[a-z]{2,3})$`),
		regexp.MustCompile(`(?i)\s*[|\-–]\s*walmart\.com$`),
		regexp.MustCompile(`(?i)\s*[|\-–]\s*ebay$`),
		regexp.MustCompile(`(?i)\s*[|\-–]\s*target$`),
		regexp.MustCompile(`(?i)\s*[|\-–]\s*etsy$`),
	}
)

// CleanText strips known retailer prefixes and suffixes from a title or
// description.
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	for _, re := range boilerplatePrefixes {
		s = re.ReplaceAllString(s, "")
	}
	for _, re := range boilerplateSuffixes {
		s = re.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// pick prefers the incoming value unless it is absent.
func pick(base, overlay string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// Merge combines two previews field by field. The overlay wins wherever it
// has a non-empty value; the base's URL is always kept since the original
// request's normalized URL is authoritative over whatever a downstream
// service echoes back. Confidence is not carried through: the caller must
// rescore the merged result.
func Merge(base, overlay *model.ProductPreview) *model.ProductPreview {
	merged := &model.ProductPreview{
		URL:          base.URL,
		CanonicalURL: pick(base.CanonicalURL, overlay.CanonicalURL),
		Title:        CleanText(pick(base.Title, overlay.Title)),
		Description:  CleanText(pick(base.Description, overlay.Description)),
		Currency:     pick(base.Currency, overlay.Currency),
		Image:        pick(base.Image, overlay.Image),
		Availability: pick(base.Availability, overlay.Availability),
	}

	merged.Price = base.Price
	if overlay.Price != nil {
		merged.Price = overlay.Price
	}

	merged.Images = base.Images
	if len(overlay.Images) > 0 {
		merged.Images = overlay.Images
	}

	merged.Source = base.Source
	if overlay.Source != "" {
		merged.Source = overlay.Source
	}

	merged.Warnings = append(append([]string{}, base.Warnings...), overlay.Warnings...)

	return merged
}
