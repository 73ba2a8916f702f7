package imagesource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/facerec"
)

type mapObjects map[string][]byte

func (m mapObjects) GetObject(ctx context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func TestFetchLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o644))

	f := NewFetcher(nil)
	data, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}

func TestFetchLocalFileMissing(t *testing.T) {
	f := NewFetcher(nil)
	_, err := f.Fetch(context.Background(), "/does/not/exist.jpg")
	require.ErrorIs(t, err, facerec.ErrImageFetch)
}

func TestFetchURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-data"))
	}))
	defer srv.Close()

	f := NewFetcher(nil)
	data, err := f.Fetch(context.Background(), srv.URL+"/frame.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("image-data"), data)
}

func TestFetchURLRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(nil)
	data, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchURLExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, facerec.ErrImageFetch)
}

func TestFetchObjectStore(t *testing.T) {
	f := NewFetcher(mapObjects{"frames/cam-1/f1.jpg": []byte("blob")})

	data, err := f.Fetch(context.Background(), "minio://frames/cam-1/f1.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)

	_, err = f.Fetch(context.Background(), "minio://missing.jpg")
	require.ErrorIs(t, err, facerec.ErrImageFetch)
}

func TestFetchObjectStoreUnconfigured(t *testing.T) {
	f := NewFetcher(nil)
	_, err := f.Fetch(context.Background(), "minio://key")
	require.ErrorIs(t, err, facerec.ErrImageFetch)
}
