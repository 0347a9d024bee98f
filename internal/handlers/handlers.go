package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/Brownie44l1/dermai-api/internal/classifier"
	"github.com/Brownie44l1/dermai-api/internal/logging"
	"github.com/Brownie44l1/dermai-api/internal/memo"
	"github.com/Brownie44l1/dermai-api/internal/predictlog"
)

const predictFailedDetail = "Failed to process the image or make a prediction. Please try again with a valid image."

// Classifier is the part of classifier.Classifier the API needs.
type Classifier interface {
	Predict(ctx context.Context, raw []byte) (classifier.Prediction, error)
	MaxBytes() int
}

// CacheAdmin is implemented by classifiers whose result cache can be
// inspected and purged.
type CacheAdmin interface {
	CacheStats() classifier.CacheStats
	PurgeCache() int
}

type Handler struct {
	classifier  Classifier
	predictions predictlog.Writer
}

// NewHandler wires the API handlers. A nil log discards entries.
func NewHandler(c Classifier, log predictlog.Writer) *Handler {
	if log == nil {
		log = predictlog.NoopWriter{}
	}
	return &Handler{
		classifier:  c,
		predictions: log,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// PredictResponse is the /predict success body. Prediction is the class
// index (0 benign, 1 malignant).
type PredictResponse struct {
	Prediction  int     `json:"prediction"`
	Probability float64 `json:"probability"`
}

// Predict classifies an uploaded image sent as multipart field "file" or
// "image".
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	// The multipart envelope gets 1 MiB of headroom over the file limit.
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.classifier.MaxBytes())+1<<20)

	raw, err := readUpload(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.record(r.Context(), "", classifier.Prediction{}, classifier.ErrPayloadTooLarge)
			writeDetail(w, http.StatusBadRequest, h.tooLarge())
			return
		}
		logger.Warn("read upload", "error", err)
		writeDetail(w, http.StatusBadRequest, predictFailedDetail)
		return
	}

	pred, err := h.classifier.Predict(r.Context(), raw)
	h.record(r.Context(), memo.Fingerprint(raw), pred, err)
	if err != nil {
		if errors.Is(err, classifier.ErrPayloadTooLarge) {
			writeDetail(w, http.StatusBadRequest, h.tooLarge())
			return
		}
		logger.Error("prediction error", "error", err)
		writeDetail(w, http.StatusBadRequest, predictFailedDetail)
		return
	}

	logger.Info("prediction",
		"label", pred.Label.String(),
		"confidence", pred.Confidence,
		"cached", pred.Cached,
		"fingerprint", pred.Fingerprint,
	)
	writeJSON(w, http.StatusOK, PredictResponse{
		Prediction:  int(pred.Label),
		Probability: pred.Confidence,
	})
}

// Predictions lists recent prediction log entries, newest first.
func (h *Handler) Predictions(w http.ResponseWriter, r *http.Request) {
	reader, ok := h.predictions.(predictlog.Reader)
	if !ok {
		writeDetail(w, http.StatusNotImplemented, "prediction log is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := reader.List(r.Context(), limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("list predictions", "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to list predictions")
		return
	}
	if entries == nil {
		entries = []predictlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

// CacheStats reports the result cache fill level.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.classifier.(CacheAdmin)
	if !ok {
		writeDetail(w, http.StatusNotImplemented, "result cache is not inspectable")
		return
	}
	writeJSON(w, http.StatusOK, admin.CacheStats())
}

// PurgeCache empties the in-process result cache.
func (h *Handler) PurgeCache(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.classifier.(CacheAdmin)
	if !ok {
		writeDetail(w, http.StatusNotImplemented, "result cache is not inspectable")
		return
	}
	n := admin.PurgeCache()
	logging.FromContext(r.Context()).Info("result cache purged", "entries", n)
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func (h *Handler) record(ctx context.Context, fingerprint string, pred classifier.Prediction, err error) {
	entry := predictlog.Entry{
		TraceID:     logging.TraceIDFromContext(ctx),
		Fingerprint: fingerprint,
		Outcome:     classifier.Outcome(err),
	}
	if err == nil {
		entry.Label = pred.Label.String()
		entry.Confidence = pred.Confidence
		entry.Cached = pred.Cached
	}
	if werr := h.predictions.Write(context.WithoutCancel(ctx), entry); werr != nil {
		logging.FromContext(ctx).Warn("prediction log write failed", "error", werr)
	}
}

func (h *Handler) tooLarge() string {
	return fmt.Sprintf("File too large. Max size is %dMB.", h.classifier.MaxBytes()>>20)
}

// readUpload returns the bytes of the "file" field, falling back to "image".
func readUpload(r *http.Request) ([]byte, error) {
	var (
		file multipart.File
		err  error
	)
	for _, field := range []string{"file", "image"} {
		file, _, err = r.FormFile(field)
		if err == nil {
			break
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, err
		}
	}
	if err != nil {
		return nil, fmt.Errorf("no image file provided; use 'file' or 'image' as the form field name: %w", err)
	}
	defer file.Close()
	return io.ReadAll(file)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
