package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/crawl-ingest/internal/storage/gcs"
)

func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := gcs.Open(context.Background(), gcs.Config{Bucket: "summaries"},
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/summaries/o")
		assert.Equal(t, "runs/abc.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `{"run_id":"abc"}`)

		fmt.Fprintln(w, `{"name": "runs/abc.json", "bucket": "summaries"}`)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), "runs/abc.json", "application/json",
		strings.NewReader(`{"run_id":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "gs://summaries/runs/abc.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	store := newTestStore(t, handler)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.PutObject(ctx, "runs/abc.json", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	_, err = gcs.New(client, gcs.Config{Bucket: " "})
	require.Error(t, err)

	store, err := gcs.New(client, gcs.Config{Bucket: "b"})
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
