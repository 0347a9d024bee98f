package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Brownie44l1/dermai-api/internal/logging"
)

// Fetcher downloads the model artifact to dest.
type Fetcher interface {
	Fetch(ctx context.Context, dest string) error
}

// EnsureLocal fetches the artifact to path unless a file already exists
// there.
func EnsureLocal(ctx context.Context, path string, f Fetcher) error {
	if path == "" {
		return errors.New("model path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat model artifact: %w", err)
	}
	if f == nil {
		return fmt.Errorf("model artifact %s not found and no artifact store configured", path)
	}

	logger := logging.FromContext(ctx)
	logger.Info("model artifact not found locally, downloading", "path", path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}
	start := time.Now()
	if err := f.Fetch(ctx, path); err != nil {
		logger.Error("model download failed", "error", err)
		return fmt.Errorf("model download failed: %w", err)
	}
	logger.Info("model downloaded", "path", path, "duration", time.Since(start))
	return nil
}

// DriveURL returns the direct-download URL of a Google Drive file. The
// confirm parameter skips the virus-scan interstitial served for large files.
func DriveURL(fileID string) string {
	return "https://drive.usercontent.google.com/download?export=download&confirm=t&id=" + url.QueryEscape(fileID)
}

// HTTPFetcher downloads the artifact with a GET request, retrying transient
// failures with exponential backoff.
type HTTPFetcher struct {
	URL        string
	Client     *http.Client
	MaxRetries uint64
}

func (f *HTTPFetcher) Fetch(ctx context.Context, dest string) error {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	retries := f.MaxRetries
	if retries == 0 {
		retries = 3
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	return backoff.Retry(func() error {
		err := f.fetchOnce(ctx, client, dest)
		if err != nil {
			logging.FromContext(ctx).Warn("model download attempt failed", "url", f.URL, "error", err)
		}
		return err
	}, policy)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, client *http.Client, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, f.URL)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		return backoff.Permanent(fmt.Errorf("%s returned an HTML page instead of the model artifact", f.URL))
	}
	return writeAtomic(dest, resp.Body)
}

// writeAtomic streams r into a temp file next to dest and renames it into
// place, so a failed download never leaves a truncated artifact behind.
func writeAtomic(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".model-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close model artifact: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("move model artifact into place: %w", err)
	}
	return nil
}

// ObjectGetter is the subset of *minio.Client used by MinIOFetcher.
type ObjectGetter interface {
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

// MinIOConfig holds S3/MinIO artifact store settings.
type MinIOConfig struct {
	Endpoint  string
	Bucket    string
	Object    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func (c MinIOConfig) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Object == "" {
		return fmt.Errorf("object is required")
	}
	return nil
}

// MinIOFetcher downloads the artifact from an S3-compatible bucket.
type MinIOFetcher struct {
	Client ObjectGetter
	Bucket string
	Object string
}

// NewMinIOFetcher builds a MinIOFetcher with a static-credentials client.
func NewMinIOFetcher(cfg MinIOConfig) (*MinIOFetcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid minio config: %w", err)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOFetcher{Client: client, Bucket: cfg.Bucket, Object: cfg.Object}, nil
}

func (f *MinIOFetcher) Fetch(ctx context.Context, dest string) error {
	if err := f.Client.FGetObject(ctx, f.Bucket, f.Object, dest, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", f.Bucket, f.Object, err)
	}
	return nil
}
