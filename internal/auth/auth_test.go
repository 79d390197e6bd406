package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticVerifier(t *testing.T) {
	v := StaticVerifier{"secret-token": "user-1"}

	userID, err := v.Verify(context.Background(), "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = v.Verify(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPVerifier_Valid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/introspect", r.URL.Path)
		var req introspectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tok-abc", req.Token)

		json.NewEncoder(w).Encode(introspectResponse{Active: true, UserID: "user-42"})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	userID, err := v.Verify(context.Background(), "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestHTTPVerifier_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.Verify(context.Background(), "bad-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPVerifier_Inactive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(introspectResponse{Active: false})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.Verify(context.Background(), "expired-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPVerifier_InfrastructureFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.Verify(context.Background(), "tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPVerifier_EmptyToken(t *testing.T) {
	v := NewHTTPVerifier("http://localhost:0")
	_, err := v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUserIDContext(t *testing.T) {
	ctx := context.Background()

	_, ok := UserID(ctx)
	assert.False(t, ok)

	ctx = WithUserID(ctx, "user-7")
	id, ok := UserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-7", id)
}
