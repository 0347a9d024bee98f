package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, dest string) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte("onnx"), 0o600)
}

func TestEnsureLocal_SkipsExistingFile(t *testing.T) {
	path := writeFile(t, "model.onnx", "present")
	f := &countingFetcher{}

	require.NoError(t, EnsureLocal(context.Background(), path, f))
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestEnsureLocal_FetchesIntoNewDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "model.onnx")
	f := &countingFetcher{}

	require.NoError(t, EnsureLocal(context.Background(), path, f))
	assert.Equal(t, int32(1), f.calls.Load())
	assert.FileExists(t, path)
}

func TestEnsureLocal_FetchError(t *testing.T) {
	f := &countingFetcher{err: errors.New("boom")}
	err := EnsureLocal(context.Background(), filepath.Join(t.TempDir(), "m.onnx"), f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model download failed")
}

func TestHTTPFetcher_DownloadsArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.onnx")
	f := &HTTPFetcher{URL: srv.URL}
	require.NoError(t, f.Fetch(context.Background(), dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "model-bytes", string(got))
}

func TestHTTPFetcher_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.onnx")
	err := (&HTTPFetcher{URL: srv.URL, MaxRetries: 3}).Fetch(context.Background(), dest)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.NoFileExists(t, dest)
}

func TestHTTPFetcher_RejectsHTMLPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>virus scan warning</html>"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.onnx")
	err := (&HTTPFetcher{URL: srv.URL}).Fetch(context.Background(), dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTML page")
	assert.NoFileExists(t, dest)
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, (&HTTPFetcher{URL: srv.URL, MaxRetries: 2}).Fetch(context.Background(), dest))
	assert.Equal(t, int32(2), hits.Load())
}

func TestDriveURL(t *testing.T) {
	assert.Equal(t,
		"https://drive.usercontent.google.com/download?export=download&confirm=t&id=abc",
		DriveURL("abc"))
}

type stubObjectGetter struct {
	bucket, object string
	err            error
}

func (g *stubObjectGetter) FGetObject(_ context.Context, bucket, object, path string, _ minio.GetObjectOptions) error {
	g.bucket, g.object = bucket, object
	if g.err != nil {
		return g.err
	}
	return os.WriteFile(path, []byte("s3"), 0o600)
}

func TestMinIOFetcher_Fetch(t *testing.T) {
	g := &stubObjectGetter{}
	f := &MinIOFetcher{Client: g, Bucket: "models", Object: "dermai/model.onnx"}
	dest := filepath.Join(t.TempDir(), "model.onnx")

	require.NoError(t, f.Fetch(context.Background(), dest))
	assert.Equal(t, "models", g.bucket)
	assert.Equal(t, "dermai/model.onnx", g.object)
	assert.FileExists(t, dest)

	g.err = errors.New("access denied")
	err := f.Fetch(context.Background(), dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://models/dermai/model.onnx")
}

func TestNewMinIOFetcher_Validates(t *testing.T) {
	_, err := NewMinIOFetcher(MinIOConfig{Endpoint: "localhost:9000", Bucket: "models"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object is required")

	f, err := NewMinIOFetcher(MinIOConfig{Endpoint: "localhost:9000", Bucket: "models", Object: "m.onnx"})
	require.NoError(t, err)
	assert.Equal(t, "m.onnx", f.Object)
}
