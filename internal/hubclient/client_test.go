package hubclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musehub.io/musehub/internal/musehub"
)

func TestSplitRepoURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		base    string
		repoRef string
		wantErr bool
	}{
		{name: "plain slug", raw: "https://hub.example.com/demo-song", base: "https://hub.example.com", repoRef: "demo-song"},
		{name: "trailing slash", raw: "https://hub.example.com/demo-song/", base: "https://hub.example.com", repoRef: "demo-song"},
		{name: "api url", raw: "https://hub.example.com/musehub/repos/demo-song", base: "https://hub.example.com", repoRef: "demo-song"},
		{name: "with port", raw: "http://localhost:8080/demo-song", base: "http://localhost:8080", repoRef: "demo-song"},
		{name: "no repo", raw: "https://hub.example.com", wantErr: true},
		{name: "nested path", raw: "https://hub.example.com/a/b", wantErr: true},
		{name: "not a url", raw: "::bogus::", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, repoRef, err := SplitRepoURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.repoRef, repoRef)
		})
	}
}

func TestPushSendsBearerAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/musehub/repos/demo/push", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		var input musehub.PushInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		assert.Equal(t, "main", input.Branch)

		json.NewEncoder(w).Encode(musehub.PushResult{
			Branch:          "main",
			NewHeadCommitID: input.HeadCommitID,
			CommitsAccepted: 2,
			FastForward:     true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	result, err := c.Push(context.Background(), "demo", musehub.PushInput{
		Branch:       "main",
		HeadCommitID: "head-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.CommitsAccepted)
	assert.True(t, result.FastForward)
}

func TestErrorEnvelopeParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    "NON_FAST_FORWARD",
			"message": "push rejected",
			"params":  map[string]string{"remote_head": "abc123"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.Push(context.Background(), "demo", musehub.PushInput{Branch: "main", HeadCommitID: "h"})
	require.Error(t, err)

	assert.True(t, IsConflict(err))
	assert.False(t, IsServerError(err))
	assert.Equal(t, "NON_FAST_FORWARD", ErrCode(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "abc123", apiErr.Param("remote_head"))
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(musehub.FetchResult{
			Branches: []musehub.FetchBranch{{Branch: "main", HeadCommitID: "abc"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	result, err := c.Fetch(context.Background(), "demo", musehub.FetchInput{})
	require.NoError(t, err)
	require.Len(t, result.Branches, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"code": "AUTH_FAILED", "message": "bad token"})
	}))
	defer srv.Close()

	c := New(srv.URL, "bad")
	_, err := c.GetRepo(context.Background(), "demo")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestTransportErrorIsServerError(t *testing.T) {
	// Point at a closed server.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.GetRepo(context.Background(), "demo")
	require.Error(t, err)
	assert.True(t, IsServerError(err))
}

func TestRedactedAuth(t *testing.T) {
	assert.Equal(t, "Bearer ***", redactedAuth("super-secret"))
	assert.Empty(t, redactedAuth(""))
}
