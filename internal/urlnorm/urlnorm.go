// Package urlnorm canonicalizes product URLs into a deduplication key.
// Normalization determines cache-key identity: two URLs referring to the
// same product must collapse to one cache entry so a repeat paste never
// triggers a second paid extraction.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidURL is returned when the input cannot be parsed as a URL even
// after an https:// prefix is prepended.
var ErrInvalidURL = eris.New("urlnorm: invalid url")

// Normalized is the canonical form of an input URL.
type Normalized struct {
	URL      string
	Hash     string
	Hostname string
}

// trackingParams are query parameters stripped during normalization.
// Any parameter whose name starts with "utm_" is also stripped.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
	"igshid":       true,
	"msclkid":      true,
}

var (
	amazonHostRe = regexp.MustCompile(`(^|\.)amazon\.[a-z.]{2,6}$`)
	asinMarkerRe = regexp.MustCompile(`(?i)/(?:dp|gp/product|gp/aw/d|product)/([a-z0-9]{10})(?:[/?]|$)`)
	asinTokenRe  = regexp.MustCompile(`(?i)^[a-z0-9]{10}$`)
)

// Normalize canonicalizes an input string: forces https, strips tracking
// parameters, collapses Amazon product URLs to /dp/<ASIN>, removes a
// trailing slash, and returns the SHA-256 hex digest of the result.
func Normalize(input string) (*Normalized, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrInvalidURL
	}

	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + input)
		if err != nil || u.Host == "" || !strings.Contains(u.Host, ".") {
			return nil, ErrInvalidURL
		}
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for name := range q {
		if trackingParams[strings.ToLower(name)] || strings.HasPrefix(strings.ToLower(name), "utm_") {
			q.Del(name)
		}
	}
	u.RawQuery = q.Encode()

	if amazonHostRe.MatchString(u.Hostname()) {
		if asin := findASIN(u.Path); asin != "" {
			u.Path = "/dp/" + asin
			u.RawQuery = ""
		}
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	normalized := u.String()
	sum := sha256.Sum256([]byte(normalized))

	return &Normalized{
		URL:      normalized,
		Hash:     hex.EncodeToString(sum[:]),
		Hostname: strings.ToLower(u.Hostname()),
	}, nil
}

// IsAmazonHost reports whether a hostname belongs to an Amazon storefront.
func IsAmazonHost(hostname string) bool {
	return amazonHostRe.MatchString(strings.ToLower(hostname))
}

// findASIN locates a 10-character alphanumeric ASIN token in an Amazon
// path. Marker segments (/dp/, /gp/product/, ...) are tried first; failing
// that, any bare 10-char alphanumeric segment containing a digit is taken,
// which covers the decorated share-link shapes Amazon generates.
func findASIN(path string) string {
	if m := asinMarkerRe.FindStringSubmatch(path); m != nil {
		return strings.ToUpper(m[1])
	}
	for _, seg := range strings.Split(path, "/") {
		if asinTokenRe.MatchString(seg) && strings.ContainsAny(seg, "0123456789") {
			return strings.ToUpper(seg)
		}
	}
	return ""
}
