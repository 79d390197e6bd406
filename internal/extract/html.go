package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wishwell/preview-service/internal/model"
	"github.com/wishwell/preview-service/internal/urlnorm"
)

const (
	defaultFetchTimeout = 12 * time.Second
	maxBodyBytes        = 2 * 1024 * 1024

	desktopUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// HTMLOptions configures the HTML extractor.
type HTMLOptions struct {
	Timeout      time.Duration
	UserAgent    string
	PerHostRPS   rate.Limit
	PerHostBurst int
}

// HTMLExtractor is the first, free extraction stage: it fetches the page
// directly and reads Open Graph / Twitter Card metadata, JSON-LD product
// blocks, and finally heuristic price markup. It never fails the pipeline:
// every failure mode degrades to a url-only preview with a warning.
type HTMLExtractor struct {
	client    *http.Client
	userAgent string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewHTMLExtractor creates the Stage 1 extractor.
func NewHTMLExtractor(opts HTMLOptions) *HTMLExtractor {
	if opts.Timeout == 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = desktopUserAgent
	}
	if opts.PerHostRPS == 0 {
		opts.PerHostRPS = 2
	}
	if opts.PerHostBurst == 0 {
		opts.PerHostBurst = 4
	}
	return &HTMLExtractor{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: opts.UserAgent,
		limiters:  make(map[string]*rate.Limiter),
		rps:       opts.PerHostRPS,
		burst:     opts.PerHostBurst,
	}
}

func (h *HTMLExtractor) Name() string { return "html" }

// limiter returns the politeness limiter for a host, creating it on first
// use.
func (h *HTMLExtractor) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.rps, h.burst)
		h.limiters[host] = l
	}
	return l
}

// Extract fetches and parses the product page.
func (h *HTMLExtractor) Extract(ctx context.Context, target *urlnorm.Normalized) *Result {
	p := &model.ProductPreview{URL: target.URL, Source: model.SourceHTML}
	res := &Result{Preview: p}

	if err := h.limiter(target.Hostname).Wait(ctx); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("html: fetch canceled: %v", err))
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("html: create request: %v", err))
		return res
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := h.client.Do(req)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("html: fetch failed: %v", err))
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("html: read body: %v", err))
		return res
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		res.Warnings = append(res.Warnings, fmt.Sprintf("html: blocked (%s)", blockType))
		return res
	}
	if resp.StatusCode >= 400 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("html: status %d", resp.StatusCode))
		return res
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("html: parse: %v", err))
		return res
	}

	meta := collectMeta(doc)
	product, ldWarnings := findJSONLDProduct(doc)
	res.Warnings = append(res.Warnings, ldWarnings...)

	p.Title = FirstNonEmpty(
		meta["og:title"],
		meta["twitter:title"],
		jsonString(product, "name"),
		doc.Find("title").First().Text(),
	)
	p.Description = FirstNonEmpty(
		meta["og:description"],
		meta["twitter:description"],
		meta["description"],
		jsonString(product, "description"),
	)
	p.CanonicalURL = strings.TrimSpace(doc.Find(`link[rel="canonical"]`).AttrOr("href", ""))

	p.Image = FirstNonEmpty(
		meta["og:image"],
		meta["og:image:secure_url"],
		meta["twitter:image"],
		jsonLDImage(product),
	)
	if p.Image == "" && urlnorm.IsAmazonHost(target.Hostname) {
		p.Image = amazonImageFallback(body)
	}
	if p.Image != "" {
		p.Images = []string{p.Image}
	} else {
		p.Images = []string{}
	}

	price, currency, availability := offerFields(product)
	if price == nil {
		price, currency = metaPrice(meta, currency)
	}
	if price == nil {
		if v, ok := ScanPrice(string(body)); ok {
			price = model.Float(v)
			if currency == "" && bytes.Contains(body, []byte("$")) {
				currency = "$"
			}
		}
	}
	p.Price = price
	p.Currency = currency
	p.Availability = availability

	zap.L().Debug("extract: html stage complete",
		zap.String("url", target.URL),
		zap.Bool("has_title", p.Title != ""),
		zap.Bool("has_image", p.Image != ""),
		zap.Bool("has_price", p.HasPrice()),
	)

	return res
}

// collectMeta builds a lookup of meta tags by lower-cased property/name.
// The first occurrence wins per key.
func collectMeta(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key, _ := s.Attr("property")
		if key == "" {
			key, _ = s.Attr("name")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		content, _ := s.Attr("content")
		if key == "" || content == "" {
			return
		}
		if _, ok := meta[key]; !ok {
			meta[key] = strings.TrimSpace(content)
		}
	})
	return meta
}

// findJSONLDProduct parses every application/ld+json block and returns the
// first entry whose @type includes Product. Malformed blocks are collected
// as warnings, never errors: third-party JSON-LD is routinely broken.
func findJSONLDProduct(doc *goquery.Document) (map[string]any, []string) {
	var (
		product  map[string]any
		warnings []string
	)

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var parsed any
		if err := json.Unmarshal([]byte(s.Text()), &parsed); err != nil {
			warnings = append(warnings, "html: malformed json-ld block skipped")
			return true
		}
		for _, entry := range flattenJSONLD(parsed) {
			if isProductType(entry["@type"]) {
				product = entry
				return false
			}
		}
		return true
	})

	return product, warnings
}

// flattenJSONLD expands top-level arrays and @graph containers into a flat
// list of candidate objects.
func flattenJSONLD(parsed any) []map[string]any {
	var out []map[string]any
	switch v := parsed.(type) {
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	case map[string]any:
		out = append(out, v)
		if graph, ok := v["@graph"].([]any); ok {
			for _, item := range graph {
				if m, ok := item.(map[string]any); ok {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return strings.Contains(v, "Product")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.Contains(s, "Product") {
				return true
			}
		}
	}
	return false
}

// jsonString reads a string field from a JSON-LD object.
func jsonString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// jsonLDImage handles the image field's three common shapes: a string, an
// array of strings, or an ImageObject.
func jsonLDImage(product map[string]any) string {
	if product == nil {
		return ""
	}
	switch v := product["image"].(type) {
	case string:
		return v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				return s
			}
			if m, ok := item.(map[string]any); ok {
				if u := jsonString(m, "url"); u != "" {
					return u
				}
			}
		}
	case map[string]any:
		return jsonString(v, "url")
	}
	return ""
}

// offerFields resolves price, currency, and availability from a JSON-LD
// offer. lowPrice is preferred over price over priceSpecification.price
// over highPrice: when a range is declared, the low end is the price a
// buyer actually sees first.
func offerFields(product map[string]any) (*float64, string, string) {
	if product == nil {
		return nil, "", ""
	}

	var offer map[string]any
	switch v := product["offers"].(type) {
	case map[string]any:
		offer = v
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				offer = m
				break
			}
		}
	}
	if offer == nil {
		return nil, "", ""
	}

	var spec map[string]any
	if m, ok := offer["priceSpecification"].(map[string]any); ok {
		spec = m
	}

	var price *float64
	for _, candidate := range []any{
		offer["lowPrice"], offer["price"], specValue(spec, "price"), offer["highPrice"],
	} {
		if v, ok := parseNumeric(candidate); ok {
			price = model.Float(v)
			break
		}
	}

	currency := FirstNonEmpty(
		jsonString(offer, "priceCurrency"),
		jsonString(spec, "priceCurrency"),
	)

	availability := jsonString(offer, "availability")
	availability = strings.TrimPrefix(availability, "https://schema.org/")
	availability = strings.TrimPrefix(availability, "http://schema.org/")

	return price, currency, availability
}

func specValue(spec map[string]any, key string) any {
	if spec == nil {
		return nil
	}
	return spec[key]
}

// metaPrice reads price meta tags (product:price:amount and the og
// variant).
func metaPrice(meta map[string]string, currency string) (*float64, string) {
	raw := FirstNonEmpty(meta["product:price:amount"], meta["og:price:amount"])
	if raw == "" {
		return nil, currency
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || v < 0 {
		return nil, currency
	}
	if currency == "" {
		currency = FirstNonEmpty(meta["product:price:currency"], meta["og:price:currency"])
	}
	return model.Float(v), currency
}

// Amazon renders the product image via embedded JSON rather than meta
// tags.
var amazonImageRes = []*regexp.Regexp{
	regexp.MustCompile(`"hiRes"\s*:\s*"(https://[^"]+)"`),
	regexp.MustCompile(`"large"\s*:\s*"(https://[^"]+)"`),
	regexp.MustCompile(`data-old-hires="([^"]+)"`),
	regexp.MustCompile(`id="landingImage"[^>]*src="([^"]+)"`),
}

func amazonImageFallback(body []byte) string {
	for _, re := range amazonImageRes {
		if m := re.FindSubmatch(body); m != nil {
			return string(m[1])
		}
	}
	return ""
}
