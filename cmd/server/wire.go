package main

import (
	"context"
	"fmt"
	"io"

	"github.com/Brownie44l1/dermai-api/internal/books"
	"github.com/Brownie44l1/dermai-api/internal/classifier"
	"github.com/Brownie44l1/dermai-api/internal/config"
	"github.com/Brownie44l1/dermai-api/internal/logging"
	"github.com/Brownie44l1/dermai-api/internal/memo"
	"github.com/Brownie44l1/dermai-api/internal/model"
	"github.com/Brownie44l1/dermai-api/internal/predictlog"
)

// app holds the long-lived components built from a Config.
type app struct {
	provider    *model.Provider
	classifier  *classifier.Classifier
	predictions predictlog.Writer
	books       books.Store
	closers     []io.Closer
}

// artifactFetcher picks where a missing model is downloaded from: S3/MinIO,
// then a direct URL, then a Google Drive file ID. Nil means none configured.
func artifactFetcher(m config.ModelConfig) (model.Fetcher, error) {
	switch {
	case m.S3 != nil:
		f, err := model.NewMinIOFetcher(model.MinIOConfig{
			Endpoint:  m.S3.Endpoint,
			Bucket:    m.S3.Bucket,
			Object:    m.S3.Object,
			AccessKey: m.S3.AccessKey,
			SecretKey: m.S3.SecretKey,
			UseSSL:    m.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	case m.URL != "":
		return &model.HTTPFetcher{URL: m.URL}, nil
	case m.DriveFileID != "":
		return &model.HTTPFetcher{URL: model.DriveURL(m.DriveFileID)}, nil
	default:
		return nil, nil
	}
}

func newProvider(cfg *config.Config) (*model.Provider, error) {
	fetcher, err := artifactFetcher(cfg.Model)
	if err != nil {
		return nil, err
	}
	return model.NewProvider(model.ONNXLoader(model.ONNXConfig{
		ModelPath:    cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		LibraryPath:  cfg.Model.LibraryPath,
		Fetcher:      fetcher,
	})), nil
}

// newApp builds every component. withStores controls whether the prediction
// log and the book store are opened; the one-shot CLI commands skip them.
func newApp(ctx context.Context, cfg *config.Config, withStores bool) (*app, error) {
	a := &app{predictions: predictlog.NoopWriter{}}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("model provider: %w", err)
	}
	a.provider = provider

	var shared memo.Store[classifier.Result]
	if addr := cfg.Cache.Redis.Addr; addr != "" {
		client, err := memo.DialRedis(ctx, addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		shared = memo.NewRedisStore[classifier.Result](client, cfg.Cache.Redis.Prefix, cfg.Cache.Redis.TTL())
		logging.Logger.Info("redis result cache enabled", "addr", addr)
	}
	a.classifier = classifier.New(provider, memo.New[classifier.Result](cfg.Cache.Capacity, shared), cfg.Classifier.MaxBytes)

	if !withStores {
		return a, nil
	}

	a.predictions, err = predictlog.Open(cfg.PredictionLog.Driver, cfg.PredictionLog.DSN)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := a.predictions.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.books, err = books.Open(cfg.Books.Driver, cfg.Books.DSN)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := a.books.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	return a, nil
}

// Close releases the model and every opened store.
func (a *app) Close() {
	if err := a.provider.Close(); err != nil {
		logging.Logger.Warn("close model", "error", err)
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			logging.Logger.Warn("close store", "error", err)
		}
	}
	model.ShutdownRuntime()
}
