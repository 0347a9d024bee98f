package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Brownie44l1/dermai-api/internal/logging"
	"github.com/Brownie44l1/dermai-api/internal/metrics"
)

// ErrUnavailable is returned when the model could not be fetched or loaded.
// The provider stays unloaded, so the next Ensure call retries.
var ErrUnavailable = errors.New("model unavailable")

// Loader performs the expensive load of a model.
type Loader func(ctx context.Context) (Model, error)

type handle struct {
	model Model
}

// Provider loads a Model lazily, exactly once, on first use. Ensure is safe
// for concurrent use: the published handle is read without locking and only
// the first callers contend on the load mutex.
type Provider struct {
	load   Loader
	mu     sync.Mutex
	loaded atomic.Pointer[handle]
	loads  atomic.Int64
}

// NewProvider returns a Provider that calls load on first use.
func NewProvider(load Loader) *Provider {
	return &Provider{load: load}
}

// Ensure returns the loaded model, loading it if no caller has yet.
func (p *Provider) Ensure(ctx context.Context) (Model, error) {
	if h := p.loaded.Load(); h != nil {
		return h.model, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if h := p.loaded.Load(); h != nil {
		return h.model, nil
	}

	logger := logging.FromContext(ctx)
	m, err := p.load(ctx)
	if err == nil && m == nil {
		err = errors.New("loader returned no model")
	}
	if err != nil {
		metrics.ModelLoads.WithLabelValues("error").Inc()
		logger.Error("model load failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	p.loaded.Store(&handle{model: m})
	p.loads.Add(1)
	metrics.ModelLoads.WithLabelValues("success").Inc()
	logger.Info("model loaded", "classes", m.Metadata().Classes)
	return m, nil
}

// Loaded reports whether a model has been published.
func (p *Provider) Loaded() bool {
	return p.loaded.Load() != nil
}

// Loads returns how many successful loads the provider has performed.
func (p *Provider) Loads() int64 {
	return p.loads.Load()
}

// Close releases the loaded model if it holds resources.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.loaded.Swap(nil)
	if h == nil {
		return nil
	}
	if c, ok := h.model.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ONNXConfig configures ONNXLoader.
type ONNXConfig struct {
	ModelPath    string
	MetadataPath string
	LibraryPath  string
	// Fetcher downloads the artifact when ModelPath does not exist. Nil
	// means the artifact must already be present.
	Fetcher Fetcher
}

// ONNXLoader returns a Loader that makes sure the artifact is on disk, reads
// its metadata and opens an onnxruntime Session.
func ONNXLoader(cfg ONNXConfig) Loader {
	return func(ctx context.Context) (Model, error) {
		if err := EnsureLocal(ctx, cfg.ModelPath, cfg.Fetcher); err != nil {
			return nil, err
		}
		meta, err := LoadMetadata(cfg.MetadataPath)
		if err != nil {
			return nil, err
		}
		logging.FromContext(ctx).Info("loading model", "path", cfg.ModelPath, "layout", meta.Layout)
		session, err := NewSession(cfg.ModelPath, meta, cfg.LibraryPath)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}
