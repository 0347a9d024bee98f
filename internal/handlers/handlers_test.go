package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/dermai-api/internal/books"
	"github.com/Brownie44l1/dermai-api/internal/classifier"
	"github.com/Brownie44l1/dermai-api/internal/memo"
	"github.com/Brownie44l1/dermai-api/internal/predictlog"
	"github.com/Brownie44l1/dermai-api/internal/preprocess"
	"github.com/Brownie44l1/dermai-api/internal/ui"
)

type stubClassifier struct {
	result   classifier.Result
	err      error
	maxBytes int
	calls    int
	// wait blocks Predict until the request context ends.
	wait bool
}

func (s *stubClassifier) Predict(ctx context.Context, raw []byte) (classifier.Prediction, error) {
	s.calls++
	if len(raw) > s.MaxBytes() {
		return classifier.Prediction{}, &classifier.Error{Err: classifier.ErrPayloadTooLarge}
	}
	if s.wait {
		<-ctx.Done()
		return classifier.Prediction{}, &classifier.Error{Err: ctx.Err()}
	}
	if s.err != nil {
		return classifier.Prediction{}, &classifier.Error{Err: s.err}
	}
	return classifier.Prediction{Result: s.result, Fingerprint: memo.Fingerprint(raw), Cached: s.calls > 1}, nil
}

func (s *stubClassifier) MaxBytes() int {
	if s.maxBytes > 0 {
		return s.maxBytes
	}
	return classifier.DefaultMaxBytes
}

func (s *stubClassifier) Classify(ctx context.Context, raw []byte) (classifier.Result, error) {
	p, err := s.Predict(ctx, raw)
	return p.Result, err
}

type cachingStub struct {
	*stubClassifier
	entries int
}

func (s *cachingStub) CacheStats() classifier.CacheStats {
	return classifier.CacheStats{Entries: s.entries, Capacity: 100}
}

func (s *cachingStub) PurgeCache() int {
	n := s.entries
	s.entries = 0
	return n
}

// headerCounter counts WriteHeader calls that reach the connection.
type headerCounter struct {
	*httptest.ResponseRecorder
	writes int
}

func (h *headerCounter) WriteHeader(code int) {
	h.writes++
	h.ResponseRecorder.WriteHeader(code)
}

func newTestRouter(t *testing.T, c *stubClassifier, log predictlog.Writer) http.Handler {
	t.Helper()
	uh, err := ui.NewHandler(c)
	require.NoError(t, err)
	return NewRouter(RouterConfig{
		API:   NewHandler(c, log),
		UI:    uh,
		Books: books.NewMemoryStore(),
	})
}

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "lesion.jpg")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, &stubClassifier{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestPredict(t *testing.T) {
	for _, field := range []string{"file", "image"} {
		t.Run(field, func(t *testing.T) {
			c := &stubClassifier{result: classifier.Result{Label: classifier.Malignant, Confidence: 0.9123}}
			r := newTestRouter(t, c, nil)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, multipartRequest(t, field, []byte("jpeg bytes")))

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.JSONEq(t, `{"prediction":1,"probability":0.9123}`, w.Body.String())
		})
	}
}

func TestPredict_Failures(t *testing.T) {
	tests := []struct {
		name   string
		stub   *stubClassifier
		req    func(t *testing.T) *http.Request
		detail string
	}{
		{
			name:   "invalid image",
			stub:   &stubClassifier{err: preprocess.ErrInvalidImage},
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, "file", []byte("text")) },
			detail: predictFailedDetail,
		},
		{
			name:   "missing field",
			stub:   &stubClassifier{},
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, "upload", []byte("x")) },
			detail: predictFailedDetail,
		},
		{
			name:   "not multipart",
			stub:   &stubClassifier{},
			req:    func(*testing.T) *http.Request { return httptest.NewRequest(http.MethodPost, "/predict", nil) },
			detail: predictFailedDetail,
		},
		{
			name:   "too large",
			stub:   &stubClassifier{maxBytes: 3 << 20},
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, "file", make([]byte, 3<<20+1)) },
			detail: "File too large. Max size is 3MB.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, tt.stub, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, tt.req(t))

			require.Equal(t, http.StatusBadRequest, w.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.detail, body["detail"])
		})
	}
}

func TestPredictions(t *testing.T) {
	log, err := predictlog.NewSQLiteWriter(filepath.Join(t.TempDir(), "predictions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	c := &stubClassifier{result: classifier.Result{Label: classifier.Benign, Confidence: 0.8}}
	r := newTestRouter(t, c, log)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, multipartRequest(t, "file", []byte("same image")))
		require.Equal(t, http.StatusOK, w.Code)
	}
	c.err = errors.New("boom")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "file", []byte("other image")))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []predictlog.Entry `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data, 3)
	outcomes := map[string]int{}
	for _, e := range resp.Data {
		outcomes[e.Outcome]++
		assert.NotEmpty(t, e.TraceID)
		assert.Len(t, e.Fingerprint, 64)
	}
	assert.Equal(t, map[string]int{"success": 2, "error": 1}, outcomes)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictions_Disabled(t *testing.T) {
	r := newTestRouter(t, &stubClassifier{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_MountsEverything(t *testing.T) {
	r := newTestRouter(t, &stubClassifier{}, nil)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/api/books", "", http.StatusOK},
		{http.MethodPost, "/blog", `{"title":"t","body":"b"}`, http.StatusOK},
		{http.MethodOptions, "/predict", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body)))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestPredict_DeadlineWritesOneResponse(t *testing.T) {
	c := &stubClassifier{wait: true}
	r := NewRouter(RouterConfig{API: NewHandler(c, nil), RequestTimeout: 20 * time.Millisecond})

	w := &headerCounter{ResponseRecorder: httptest.NewRecorder()}
	r.ServeHTTP(w, multipartRequest(t, "file", []byte("slow image")))

	assert.Equal(t, 1, w.writes)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, predictFailedDetail, body["detail"])
}

func TestCache_StatsAndPurge(t *testing.T) {
	c := &cachingStub{stubClassifier: &stubClassifier{}, entries: 4}
	r := NewRouter(RouterConfig{API: NewHandler(c, nil)})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cache", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entries":4,"capacity":100}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/cache", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"purged":4}`, w.Body.String())
	assert.Equal(t, 0, c.entries)
}

func TestCache_NotInspectable(t *testing.T) {
	r := newTestRouter(t, &stubClassifier{}, nil)
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, "/api/cache", nil))
		assert.Equal(t, http.StatusNotImplemented, w.Code, method)
	}
}

func TestCORS_AllowList(t *testing.T) {
	h := enableCORS("https://dermai.example")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://dermai.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://dermai.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusTeapot, w.Code)

	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
