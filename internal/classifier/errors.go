package classifier

import (
	"context"
	"errors"

	"github.com/Brownie44l1/dermai-api/internal/model"
	"github.com/Brownie44l1/dermai-api/internal/preprocess"
)

var (
	// ErrClassificationFailed matches every error returned by Classify.
	ErrClassificationFailed = errors.New("classification failed")
	// ErrPayloadTooLarge is returned for inputs above the byte limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrInference is returned when the model fails to run or produces a
	// result that cannot be mapped to a Label.
	ErrInference = errors.New("inference error")
)

// Error is the single failure type surfaced by the Classifier. It matches
// ErrClassificationFailed and unwraps to the original cause.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return ErrClassificationFailed.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrClassificationFailed
}

// Outcome names the failure kind of err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, preprocess.ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, model.ErrUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrInference):
		return "inference_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
