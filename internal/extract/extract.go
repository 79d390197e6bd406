// Package extract provides the staged product extractors: an HTML
// meta/JSON-LD parser, a structured page-analysis service adapter, and a
// host-restricted dataset collection adapter.
package extract

import (
	"context"
	"strings"

	"github.com/wishwell/preview-service/internal/model"
	"github.com/wishwell/preview-service/internal/urlnorm"
)

// Result holds a stage's output. A nil Preview means the stage produced no
// additional data; that is not an error and the pipeline proceeds with
// whatever earlier stages found.
type Result struct {
	Preview  *model.ProductPreview
	Warnings []string
}

// Extractor is one extraction strategy in the escalation chain.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, target *urlnorm.Normalized) *Result
}

// FirstNonEmpty returns the first candidate that is not blank after
// trimming.
func FirstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return strings.TrimSpace(c)
		}
	}
	return ""
}
