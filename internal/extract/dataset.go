package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wishwell/preview-service/internal/model"
	"github.com/wishwell/preview-service/internal/urlnorm"
	"github.com/wishwell/preview-service/pkg/brightdata"
)

// Price field variants across retailer dataset schemas, in priority order:
// buy-box/current/sale/offer fields first, MSRP/list/"was" fields last.
var datasetPriceFields = []string{
	"final_price", "buybox_price", "current_price", "price",
	"sale_price", "offer_price", "deal_price", "discounted_price",
	"price_current", "unit_price", "initial_price",
}

// List-price variants are never picked directly; they only contribute to
// the median fallback.
var datasetListPriceFields = []string{
	"regular_price", "retail_price", "list_price", "msrp", "was_price",
}

var datasetCurrencyFields = []string{"currency", "price_currency", "currency_code"}

var datasetTitleFields = []string{"title", "product_title", "name", "product_name"}

var datasetDescriptionFields = []string{
	"description", "product_description", "about", "overview",
}

var datasetBulletFields = []string{
	"bullet_points", "features", "highlights", "about_this_item",
}

var datasetImageFields = []string{
	"image_url", "main_image", "image", "primary_image",
	"thumbnail", "thumbnail_url", "images", "image_link",
}

var datasetAvailabilityFields = []string{"availability", "stock_status", "is_available"}

// DatasetExtractor is the third and most expensive stage: a browser
// automation / residential proxy collection service with per-retailer
// datasets. It exists for the small set of hosts whose bot protection
// defeats both cheaper stages, trading up to ~45s of latency for
// reliability, and is gated behind them to bound average-case cost.
type DatasetExtractor struct {
	client   brightdata.Client
	datasets map[string]string // hostname suffix -> dataset ID
	pollOpts []brightdata.PollOption
}

// NewDatasetExtractor creates the Stage 3 adapter. client may be nil and
// datasets may be empty; the stage then reports no data for every host.
func NewDatasetExtractor(client brightdata.Client, datasets map[string]string, pollOpts ...brightdata.PollOption) *DatasetExtractor {
	normalized := make(map[string]string, len(datasets))
	for host, id := range datasets {
		normalized[strings.ToLower(host)] = id
	}
	return &DatasetExtractor{client: client, datasets: normalized, pollOpts: pollOpts}
}

func (d *DatasetExtractor) Name() string { return "dataset" }

// Supports reports whether a dataset is configured for the hostname.
// Subdomains of a configured retailer match.
func (d *DatasetExtractor) Supports(hostname string) bool {
	return d.client != nil && d.datasetFor(hostname) != ""
}

func (d *DatasetExtractor) datasetFor(hostname string) string {
	hostname = strings.ToLower(hostname)
	for host, id := range d.datasets {
		if hostname == host || strings.HasSuffix(hostname, "."+host) {
			return id
		}
	}
	return ""
}

// Extract runs the trigger / poll / download cycle for the URL's retailer
// dataset. Every failure mode is soft: nil preview plus a warning.
func (d *DatasetExtractor) Extract(ctx context.Context, target *urlnorm.Normalized) *Result {
	datasetID := d.datasetFor(target.Hostname)
	if d.client == nil || datasetID == "" {
		return &Result{Warnings: []string{fmt.Sprintf("dataset: no dataset configured for %s", target.Hostname)}}
	}

	trigger, err := d.client.Trigger(ctx, datasetID, []brightdata.TriggerInput{{URL: target.URL}})
	if err != nil || trigger.SnapshotID == "" {
		return &Result{Warnings: []string{fmt.Sprintf("dataset: trigger failed: %v", err)}}
	}

	if err := brightdata.PollSnapshot(ctx, d.client, trigger.SnapshotID, d.pollOpts...); err != nil {
		return &Result{Warnings: []string{fmt.Sprintf("dataset: %v", err)}}
	}

	records, err := d.client.Download(ctx, trigger.SnapshotID)
	if err != nil {
		return &Result{Warnings: []string{fmt.Sprintf("dataset: download failed: %v", err)}}
	}
	if len(records) == 0 {
		return &Result{Warnings: []string{"dataset: snapshot contained no records"}}
	}

	p := mapDatasetRecord(target.URL, records[0])

	zap.L().Info("extract: dataset stage complete",
		zap.String("url", target.URL),
		zap.String("snapshot_id", trigger.SnapshotID),
		zap.Bool("has_price", p.HasPrice()),
	)

	return &Result{Preview: p}
}

// mapDatasetRecord interprets a raw dataset record through the known
// field-name variants.
func mapDatasetRecord(targetURL string, rec brightdata.Record) *model.ProductPreview {
	p := &model.ProductPreview{
		URL:    targetURL,
		Source: model.SourceDataset,
	}

	p.Title = firstRecordString(rec, datasetTitleFields)
	p.Currency = firstRecordString(rec, datasetCurrencyFields)
	p.Availability = firstRecordString(rec, datasetAvailabilityFields)

	p.Description = firstRecordString(rec, datasetDescriptionFields)
	if p.Description == "" {
		for _, field := range datasetBulletFields {
			if bullets := recordStringList(rec[field]); len(bullets) > 0 {
				p.Description = strings.Join(bullets, " • ")
				break
			}
		}
	}

	for _, field := range datasetImageFields {
		if imgs := recordStringList(rec[field]); len(imgs) > 0 {
			p.Image = imgs[0]
			p.Images = imgs
			break
		}
	}

	if v, ok := datasetPrice(rec); ok {
		p.Price = model.Float(v)
	}

	return p
}

// datasetPrice resolves a price from the record. The first preferred field
// that parses wins. When none do but numeric candidates exist among the
// list variants, the median is taken so a single outlier field (an
// unconverted cents value, a bundle total) does not skew the result.
func datasetPrice(rec brightdata.Record) (float64, bool) {
	for _, field := range datasetPriceFields {
		if v, ok := parseNumeric(rec[field]); ok {
			return v, true
		}
	}

	// No current-price variant present: take the median of whatever
	// numeric candidates remain.
	var numeric []float64
	for _, field := range datasetListPriceFields {
		if v, ok := parseNumeric(rec[field]); ok {
			numeric = append(numeric, v)
		}
	}
	if len(numeric) == 0 {
		return 0, false
	}

	sort.Float64s(numeric)
	mid := len(numeric) / 2
	if len(numeric)%2 == 1 {
		return numeric[mid], true
	}
	return (numeric[mid-1] + numeric[mid]) / 2, true
}

// parseNumeric coerces the value shapes dataset records and JSON-LD use
// for prices: numbers, numeric strings, and display strings with currency
// decoration.
func parseNumeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if t >= 0 {
			return t, true
		}
	case int:
		if t >= 0 {
			return float64(t), true
		}
	case json.Number:
		if f, err := t.Float64(); err == nil && f >= 0 {
			return f, true
		}
	case string:
		return parsePriceString(t)
	}
	return 0, false
}

// firstRecordString returns the first non-empty string value among the
// given fields.
func firstRecordString(rec brightdata.Record, fields []string) string {
	for _, field := range fields {
		if s, ok := rec[field].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// recordStringList coerces a record value into a list of strings: a bare
// string becomes a single-element list, an array keeps its string
// elements.
func recordStringList(v any) []string {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{strings.TrimSpace(t)}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}
