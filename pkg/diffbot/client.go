// Package diffbot provides a client for the Diffbot product analysis API.
package diffbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Default base URL for the Diffbot v3 API.
const defaultBaseURL = "https://api.diffbot.com/v3"

// Client defines the Diffbot operations used by the enrichment pipeline.
type Client interface {
	// Product analyzes a product page and returns the extracted objects.
	Product(ctx context.Context, targetURL string) (*ProductResponse, error)
}

// ProductResponse is the response from GET /product.
type ProductResponse struct {
	Request Request  `json:"request"`
	Objects []Object `json:"objects"`
}

// Request echoes the analyzed page URL.
type Request struct {
	PageURL string `json:"pageUrl"`
}

// Object is a single extracted product.
type Object struct {
	Type              string        `json:"type"`
	Title             string        `json:"title"`
	Text              string        `json:"text"`
	OfferPrice        string        `json:"offerPrice"`
	OfferPriceDetails *PriceDetails `json:"offerPriceDetails"`
	Images            []Image       `json:"images"`
	Availability      string        `json:"availability"`
}

// PriceDetails is the structured form of an offer price.
type PriceDetails struct {
	Amount float64 `json:"amount"`
	Symbol string  `json:"symbol"`
	Text   string  `json:"text"`
}

// Image is a product image candidate.
type Image struct {
	URL     string `json:"url"`
	Primary bool   `json:"primary"`
}

// APIError is returned when Diffbot responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("diffbot: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Diffbot client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Product(ctx context.Context, targetURL string) (*ProductResponse, error) {
	q := url.Values{}
	q.Set("token", c.token)
	q.Set("url", targetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/product?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "diffbot: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "diffbot: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "diffbot: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out ProductResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "diffbot: decode response")
	}

	return &out, nil
}
