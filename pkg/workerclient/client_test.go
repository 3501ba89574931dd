package workerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmesh/fleetgate/pkg/types"
)

func testWorker(t *testing.T, srv *httptest.Server) types.Worker {
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return types.Worker{ID: types.NewWorkerID(u.Hostname(), port), Host: u.Hostname(), Port: port}
}

func TestHTTPClient_HealthParsesResidentModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"models": []string{"resnet:v1"},
		})
	}))
	defer srv.Close()

	c := New(time.Second, time.Second, time.Second)
	healthy, models, err := c.Health(context.Background(), testWorker(t, srv))
	require.NoError(t, err)
	assert.True(t, healthy)
	assert.Equal(t, []types.ModelKey{{Name: "resnet", Version: "v1"}}, models)
}

func TestHTTPClient_LoadSendsBatchingHints(t *testing.T) {
	var body loadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(time.Second, time.Second, time.Second)
	err := c.Load(context.Background(), testWorker(t, srv), types.ModelKey{Name: "resnet", Version: "v1"}, 32, 50)
	require.NoError(t, err)
	assert.Equal(t, loadRequest{ModelName: "resnet", Version: "v1", BatchSize: 32, BatchWaitMs: 50}, body)
}

func TestHTTPClient_LoadTreatsConflictAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := New(time.Second, time.Second, time.Second)
	err := c.Load(context.Background(), testWorker(t, srv), types.ModelKey{Name: "resnet", Version: "v1"}, 32, 50)
	assert.NoError(t, err)
}

func TestHTTPClient_LoadFailureIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(time.Second, time.Second, time.Second)
	err := c.Load(context.Background(), testWorker(t, srv), types.ModelKey{Name: "resnet", Version: "v1"}, 32, 50)
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, types.KindWorkerLoadFailed, kind)
}

func TestHTTPClient_UnloadTreatsNotFoundAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(time.Second, time.Second, time.Second)
	err := c.Unload(context.Background(), testWorker(t, srv), types.ModelKey{Name: "resnet", Version: "v1"})
	assert.NoError(t, err)
}
