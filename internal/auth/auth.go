// Package auth verifies bearer credentials and resolves them to user IDs.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidToken means the credential was rejected by the verifier. Any
// other error from Verify is an infrastructure failure, not a bad token.
var ErrInvalidToken = eris.New("auth: invalid token")

// Verifier resolves a bearer token to a user ID.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type ctxKey struct{}

// WithUserID returns a context carrying the authenticated user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the authenticated user ID from ctx, if present.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// HTTPVerifier verifies tokens against a token introspection endpoint.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPVerifier.
type HTTPOption func(*HTTPVerifier)

// WithHTTPClient overrides the HTTP client used for introspection calls.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(v *HTTPVerifier) { v.client = c }
}

// NewHTTPVerifier creates a verifier that POSTs tokens to
// {baseURL}/v1/introspect and reads back the owning user ID.
func NewHTTPVerifier(baseURL string, opts ...HTTPOption) *HTTPVerifier {
	v := &HTTPVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type introspectRequest struct {
	Token string `json:"token"`
}

type introspectResponse struct {
	Active bool   `json:"active"`
	UserID string `json:"user_id"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	body, err := json.Marshal(introspectRequest{Token: token})
	if err != nil {
		return "", eris.Wrap(err, "auth: marshal introspect request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.baseURL+"/v1/introspect", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "auth: build introspect request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "auth: introspect request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", eris.New(fmt.Sprintf("auth: introspect status %d: %s", resp.StatusCode, string(b)))
	}

	var out introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", eris.Wrap(err, "auth: decode introspect response")
	}
	if !out.Active || out.UserID == "" {
		return "", ErrInvalidToken
	}
	return out.UserID, nil
}

// StaticVerifier accepts a fixed token-to-user mapping. Used in development
// and one-shot CLI runs where no identity service is configured.
type StaticVerifier map[string]string

func (v StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	userID, ok := v[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return userID, nil
}
