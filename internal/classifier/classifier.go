// Package classifier is the single entry point the HTTP and UI layers use to
// classify a lesion image. It ties together the lazily loaded model, the
// image preprocessor and the content-addressed result cache.
package classifier

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Brownie44l1/dermai-api/internal/logging"
	"github.com/Brownie44l1/dermai-api/internal/memo"
	"github.com/Brownie44l1/dermai-api/internal/metrics"
	"github.com/Brownie44l1/dermai-api/internal/model"
	"github.com/Brownie44l1/dermai-api/internal/preprocess"
)

// DefaultMaxBytes is the largest accepted upload (10 MiB).
const DefaultMaxBytes = 10 << 20

const confidenceScale = 1e4 // four decimal places

// ModelProvider hands out the shared model, loading it on first use.
type ModelProvider interface {
	Ensure(ctx context.Context) (model.Model, error)
}

// Classifier classifies raw image bytes. It is safe for concurrent use.
type Classifier struct {
	models   ModelProvider
	cache    *memo.Cache[Result]
	maxBytes int
}

// New returns a Classifier. A nil cache gets a default-capacity in-process
// cache; maxBytes <= 0 means DefaultMaxBytes.
func New(models ModelProvider, cache *memo.Cache[Result], maxBytes int) *Classifier {
	if cache == nil {
		cache = memo.New[Result](memo.DefaultCapacity, nil)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Classifier{models: models, cache: cache, maxBytes: maxBytes}
}

// MaxBytes returns the upload size limit.
func (c *Classifier) MaxBytes() int {
	return c.maxBytes
}

// CacheStats reports how full the in-process result cache is.
func (c *Classifier) CacheStats() CacheStats {
	return CacheStats{Entries: c.cache.Len(), Capacity: c.cache.Capacity()}
}

// PurgeCache drops every in-process result and returns how many were held.
// A shared Redis cache is not touched.
func (c *Classifier) PurgeCache() int {
	return c.cache.Purge()
}

// Classify returns the label and confidence for raw. Every error matches
// ErrClassificationFailed.
func (c *Classifier) Classify(ctx context.Context, raw []byte) (Result, error) {
	p, err := c.Predict(ctx, raw)
	if err != nil {
		return Result{}, err
	}
	return p.Result, nil
}

// Predict is Classify with cache details attached.
func (c *Classifier) Predict(ctx context.Context, raw []byte) (Prediction, error) {
	if len(raw) > c.maxBytes {
		return Prediction{}, c.fail(ctx, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(raw), c.maxBytes))
	}

	result, cached, err := c.cache.GetOrCompute(ctx, raw, c.infer)
	if err != nil {
		return Prediction{}, c.fail(ctx, err)
	}

	metrics.Classifications.WithLabelValues(Outcome(nil)).Inc()
	return Prediction{Result: result, Fingerprint: memo.Fingerprint(raw), Cached: cached}, nil
}

func (c *Classifier) infer(ctx context.Context, raw []byte) (Result, error) {
	m, err := c.models.Ensure(ctx)
	if err != nil {
		return Result{}, err
	}
	meta := m.Metadata()

	start := time.Now()
	tensor, err := preprocess.Decode(raw, meta.ImageSize, preprocess.Layout(meta.Layout))
	if err != nil {
		return Result{}, err
	}
	scores, err := m.Predict(tensor.Data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInference, err)
	}
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())

	return resultFromScores(scores)
}

// resultFromScores picks the highest-scoring class and rounds its score.
func resultFromScores(scores []float32) (Result, error) {
	if len(scores) == 0 {
		return Result{}, fmt.Errorf("%w: model returned no scores", ErrInference)
	}

	best := 0
	for i, s := range scores {
		if math.IsNaN(float64(s)) {
			return Result{}, fmt.Errorf("%w: score %d is NaN", ErrInference, i)
		}
		if s > scores[best] {
			best = i
		}
	}

	label, ok := LabelFromIndex(best)
	if !ok {
		return Result{}, fmt.Errorf("%w: unrecognized class index %d", ErrInference, best)
	}
	confidence := float64(scores[best])
	if confidence < 0 || confidence > 1 {
		return Result{}, fmt.Errorf("%w: score %v is not a probability", ErrInference, confidence)
	}

	return Result{
		Label:      label,
		Confidence: math.Round(confidence*confidenceScale) / confidenceScale,
	}, nil
}

func (c *Classifier) fail(ctx context.Context, err error) error {
	outcome := Outcome(err)
	metrics.Classifications.WithLabelValues(outcome).Inc()
	logging.FromContext(ctx).Warn("classification failed", "outcome", outcome, "error", err)
	return &Error{Err: err}
}
