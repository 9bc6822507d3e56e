package jira

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsync-backend/internal/integration"
)

func TestSearchSendsQueryAndAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/search/jql", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ops@example.com", user)
		assert.Equal(t, "token", pass)
		assert.Equal(t, "project = OPS ORDER BY created DESC", r.URL.Query().Get("jql"))
		assert.Equal(t, "100", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "summary,status", r.URL.Query().Get("fields"))
		_, _ = w.Write([]byte(`{"issues":[{"id":"10001","key":"OPS-1","fields":{"summary":"x"}}],"nextPageToken":"CAEaAggD","isLast":false}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "ops@example.com", "token", time.Second)
	issues, err := c.Search(context.Background(), "project = OPS ORDER BY created DESC", 100, []string{"summary", "status"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "OPS-1", issues[0].Key)
	assert.Equal(t, "x", issues[0].Fields["summary"])
}

func TestSearchUnauthorizedIsConnectivity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errorMessages":["You are not authorized"]}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "a", "b", time.Second).Search(context.Background(), "x", 1, nil)
	var ce *integration.ConnectivityError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, integration.Jira, ce.Integration)
	assert.Contains(t, err.Error(), "You are not authorized")
}

func TestMyself(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, myselfPath, r.URL.Path)
		_, _ = w.Write([]byte(`{"accountId":"abc","displayName":"Ops Bot"}`))
	}))
	defer server.Close()

	id, err := NewClient(server.URL, "a", "b", time.Second).Myself(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
}

func TestSearchUnreachableIsConnectivity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, "a", "b", time.Second).Search(context.Background(), "x", 1, nil)
	var ce *integration.ConnectivityError
	require.True(t, errors.As(err, &ce), "got %v", err)
}
