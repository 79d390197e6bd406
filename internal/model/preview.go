package model

import "time"

// Source identifies which extraction stage produced (or last merged into)
// a preview.
type Source string

const (
	SourceHTML       Source = "html"
	SourceStructured Source = "structured-service"
	SourceDataset    Source = "dataset-service"
)

// ProductPreview is the normalized product summary returned to the caller.
// Price uses a pointer so that an absent price is distinguishable from a
// free item; unset fields are omitted from JSON so the persisted form never
// carries nulls.
type ProductPreview struct {
	URL          string   `json:"url"`
	CanonicalURL string   `json:"canonicalUrl,omitempty"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	Image        string   `json:"image,omitempty"`
	Images       []string `json:"images,omitempty"`
	Availability string   `json:"availability,omitempty"`
	Source       Source   `json:"source,omitempty"`
	Confidence   float64  `json:"confidence"`
	Warnings     []string `json:"warnings,omitempty"`
}

// HasPrice reports whether a numeric price is set.
func (p *ProductPreview) HasPrice() bool {
	return p != nil && p.Price != nil
}

// Warn appends a diagnostic note to the preview.
func (p *ProductPreview) Warn(msg string) {
	p.Warnings = append(p.Warnings, msg)
}

// Float returns a pointer to v, for populating optional numeric fields.
func Float(v float64) *float64 {
	return &v
}

// CacheEntry is a persisted preview keyed by the SHA-256 of its
// normalized URL.
type CacheEntry struct {
	Hash          string         `json:"hash"`
	NormalizedURL string         `json:"normalized_url"`
	Preview       ProductPreview `json:"preview"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
}
