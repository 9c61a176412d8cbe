package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXClientCreateTweet(t *testing.T) {
	var received []tweetRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tweets", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req tweetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received = append(received, req)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"1901"}}`))
	}))
	defer srv.Close()

	c := NewXClient(srv.URL, "test-token")
	ctx := context.Background()

	id, err := c.CreateTweet(ctx, "standalone tweet", "")
	require.NoError(t, err)
	assert.Equal(t, "1901", id)

	id, err = c.CreateTweet(ctx, "thread reply", "1900")
	require.NoError(t, err)
	assert.Equal(t, "1901", id)

	require.Len(t, received, 2)
	assert.Nil(t, received[0].Reply)
	require.NotNil(t, received[1].Reply)
	assert.Equal(t, "1900", received[1].Reply.InReplyToTweetID)
}

func TestXClientNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":"duplicate content"}`))
	}))
	defer srv.Close()

	c := NewXClient(srv.URL, "test-token")
	_, err := c.CreateTweet(context.Background(), "dup", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, apiErr.Body, "duplicate content")
	assert.False(t, apiErr.Temporary())
}

func TestXClientMissingTweetID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := NewXClient(srv.URL, "test-token")
	_, err := c.CreateTweet(context.Background(), "ghost", "")
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "a 201 without an id is a decode problem, not an API error")
}

func TestAPIErrorTemporary(t *testing.T) {
	cases := []struct {
		status    int
		temporary bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		err := &APIError{Status: tc.status}
		assert.Equal(t, tc.temporary, err.Temporary(), "status %d", tc.status)
	}
}
