// Package brightdata provides a client for the Bright Data datasets API.
// Collection is asynchronous: a trigger call starts a snapshot job for a
// URL, the job is polled until ready, and the result set is downloaded.
package brightdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Default base URL for the datasets v3 API.
const defaultBaseURL = "https://api.brightdata.com/datasets/v3"

// Snapshot job states reported by the progress endpoint.
const (
	StatusRunning = "running"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// Client defines the dataset operations used by the enrichment pipeline.
type Client interface {
	// Trigger starts a collection job for the given inputs against a dataset.
	Trigger(ctx context.Context, datasetID string, inputs []TriggerInput) (*TriggerResponse, error)
	// Progress reports the state of a snapshot job.
	Progress(ctx context.Context, snapshotID string) (*ProgressResponse, error)
	// Download retrieves the records of a ready snapshot.
	Download(ctx context.Context, snapshotID string) ([]Record, error)
}

// TriggerInput is a single collection target.
type TriggerInput struct {
	URL string `json:"url"`
}

// TriggerResponse is the response from POST /trigger.
type TriggerResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// ProgressResponse is the response from GET /progress/{id}.
type ProgressResponse struct {
	Status string `json:"status"`
}

// Record is one collected result. Dataset schemas vary per retailer, so
// records are kept as raw maps and interpreted by the caller.
type Record map[string]any

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brightdata: HTTP %d: %s", e.StatusCode, e.Body)
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
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Bright Data datasets client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Trigger(ctx context.Context, datasetID string, inputs []TriggerInput) (*TriggerResponse, error) {
	q := url.Values{}
	q.Set("dataset_id", datasetID)
	q.Set("format", "json")

	var resp TriggerResponse
	if err := c.post(ctx, "/trigger?"+q.Encode(), inputs, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("brightdata: trigger dataset %s", datasetID))
	}
	return &resp, nil
}

func (c *httpClient) Progress(ctx context.Context, snapshotID string) (*ProgressResponse, error) {
	var resp ProgressResponse
	if err := c.get(ctx, "/progress/"+snapshotID, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("brightdata: progress %s", snapshotID))
	}
	return &resp, nil
}

func (c *httpClient) Download(ctx context.Context, snapshotID string) ([]Record, error) {
	var records []Record
	if err := c.get(ctx, "/snapshot/"+snapshotID+"?format=json", &records); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("brightdata: download snapshot %s", snapshotID))
	}
	return records, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
