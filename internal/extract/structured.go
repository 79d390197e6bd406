package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wishwell/preview-service/internal/model"
	"github.com/wishwell/preview-service/internal/urlnorm"
	"github.com/wishwell/preview-service/pkg/diffbot"
)

const structuredTimeout = 20 * time.Second

// StructuredExtractor is the second stage: a paid page-analysis service
// that handles pages whose markup defeats the direct HTML parse. A nil
// client means the integration is unconfigured; the stage then reports no
// data rather than an error.
type StructuredExtractor struct {
	client  diffbot.Client
	timeout time.Duration
}

// NewStructuredExtractor creates the Stage 2 adapter. client may be nil.
func NewStructuredExtractor(client diffbot.Client) *StructuredExtractor {
	return &StructuredExtractor{client: client, timeout: structuredTimeout}
}

func (s *StructuredExtractor) Name() string { return "structured" }

// Extract analyzes the page via the structured service. Failures are
// downgraded to warnings with a nil preview: the pipeline proceeds with
// whatever earlier stages produced.
func (s *StructuredExtractor) Extract(ctx context.Context, target *urlnorm.Normalized) *Result {
	if s.client == nil {
		return &Result{Warnings: []string{"structured: service not configured"}}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Product(ctx, target.URL)
	if err != nil {
		zap.L().Warn("extract: structured service failed",
			zap.String("url", target.URL),
			zap.Error(err),
		)
		return &Result{Warnings: []string{fmt.Sprintf("structured: %v", err)}}
	}
	if len(resp.Objects) == 0 {
		return &Result{Warnings: []string{"structured: no objects returned"}}
	}

	obj := resp.Objects[0]
	p := &model.ProductPreview{
		URL:          target.URL,
		Title:        obj.Title,
		Description:  obj.Text,
		Availability: obj.Availability,
		Source:       model.SourceStructured,
	}

	if obj.OfferPriceDetails != nil && obj.OfferPriceDetails.Amount > 0 {
		p.Price = model.Float(obj.OfferPriceDetails.Amount)
		p.Currency = obj.OfferPriceDetails.Symbol
	} else if obj.OfferPrice != "" {
		if v, ok := parsePriceString(obj.OfferPrice); ok {
			p.Price = model.Float(v)
		}
		if strings.HasPrefix(obj.OfferPrice, "$") {
			p.Currency = "$"
		}
	}

	for _, img := range obj.Images {
		if img.URL == "" {
			continue
		}
		if p.Image == "" || img.Primary {
			p.Image = img.URL
		}
		p.Images = append(p.Images, img.URL)
	}

	return &Result{Preview: p}
}

// parsePriceString parses a price out of a display string by stripping
// everything but digits and the decimal point.
func parsePriceString(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
