package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slate360/slatesync/internal/schema"
)

func testProject(id string) *schema.Project {
	now := time.Now()
	return &schema.Project{
		ID:        id,
		Name:      "Harbor Tower",
		Status:    "active",
		Type:      "commercial",
		Version:   3,
		SyncState: schema.SyncPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		RequestTimeout: 2 * time.Second,
	})
}

func TestCreateProject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/projects", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		var got schema.Project
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		// Local bookkeeping never crosses the wire.
		assert.Empty(t, got.SyncState)

		// Server assigns the canonical id.
		got.ID = "proj-900"
		got.Version = 1
		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(&got))
	})

	canonical, err := client.CreateProject(context.Background(), testProject(schema.LocalIDPrefix+"x1"))
	require.NoError(t, err)
	assert.Equal(t, "proj-900", canonical.ID)
	assert.EqualValues(t, 1, canonical.Version)
}

func TestUpdateProjectConflict(t *testing.T) {
	remoteState := testProject("proj-1")
	remoteState.Name = "Harbor Tower (renamed upstream)"
	remoteState.Version = 9

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/projects/proj-1", r.URL.Path)

		w.WriteHeader(http.StatusConflict)
		require.NoError(t, json.NewEncoder(w).Encode(conflictBody{
			Error:   "version-conflict",
			Project: remoteState,
		}))
	})

	_, err := client.UpdateProject(context.Background(), testProject("proj-1"))
	require.Error(t, err)

	ce, ok := IsConflict(err)
	require.True(t, ok, "expected conflict error, got %v", err)
	assert.EqualValues(t, 9, ce.RemoteVersion)
	require.NotNil(t, ce.Remote)
	assert.Equal(t, "Harbor Tower (renamed upstream)", ce.Remote.Name)
}

func TestUpdateProjectTransient(t *testing.T) {
	for _, code := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})

		_, err := client.UpdateProject(context.Background(), testProject("proj-1"))
		require.Error(t, err)
		assert.True(t, IsTransient(err), "status %d should be transient, got %v", code, err)
	}
}

func TestUpdateProjectPermanentRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "malformed payload", http.StatusUnprocessableEntity)
	})

	_, err := client.UpdateProject(context.Background(), testProject("proj-1"))
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	_, conflict := IsConflict(err)
	assert.False(t, conflict)
}

func TestDeleteProject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/projects/proj-1", r.URL.Path)
		require.Equal(t, "4", r.URL.Query().Get("version"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.DeleteProject(context.Background(), "proj-1", 4))
}

func TestDeleteProjectGoneIsIdempotent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	require.NoError(t, client.DeleteProject(context.Background(), "proj-1", 4))
}

func TestDeleteProjectConflict(t *testing.T) {
	surviving := testProject("proj-1")
	surviving.Version = 12

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		require.NoError(t, json.NewEncoder(w).Encode(conflictBody{
			Error:   "version-conflict",
			Project: surviving,
		}))
	})

	err := client.DeleteProject(context.Background(), "proj-1", 4)
	ce, ok := IsConflict(err)
	require.True(t, ok)
	assert.EqualValues(t, 12, ce.RemoteVersion)
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // refuse all connections

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, RequestTimeout: time.Second})
	_, err := client.UpdateProject(context.Background(), testProject("proj-1"))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
