// Package ui serves the browser front end: an upload form and a result card
// rendered server-side from the in-process classifier.
package ui

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Brownie44l1/dermai-api/internal/classifier"
	"github.com/Brownie44l1/dermai-api/internal/logging"
	"github.com/Brownie44l1/dermai-api/internal/version"
)

//go:embed templates/*.html
var templateFS embed.FS

// Classifier is the part of classifier.Classifier the UI needs.
type Classifier interface {
	Classify(ctx context.Context, raw []byte) (classifier.Result, error)
	MaxBytes() int
}

// Card is the result panel shown next to the upload form.
type Card struct {
	Class      string
	Icon       string
	Message    string
	Confidence string
}

// NeutralCard prompts for input.
func NeutralCard(message string) Card {
	return Card{Class: "neutral", Icon: "💡", Message: message}
}

// ErrorCard reports a failed classification.
func ErrorCard(message string) Card {
	return Card{Class: "error", Icon: "❌", Message: message}
}

// ResultCard renders a classification with its confidence as a percentage.
func ResultCard(res classifier.Result) Card {
	c := Card{
		Message:    res.Label.Description(),
		Confidence: fmt.Sprintf("%.2f%%", res.Confidence*100),
	}
	switch res.Label {
	case classifier.Benign:
		c.Class, c.Icon = "success", "✅"
	case classifier.Malignant:
		c.Class, c.Icon = "warning", "⚠️"
	default:
		return NeutralCard("Unknown prediction result.")
	}
	return c
}

type page struct {
	Card    Card
	Version string
}

type Handler struct {
	classifier Classifier
	templates  *template.Template
}

func NewHandler(c Classifier) (*Handler, error) {
	tpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse ui templates: %w", err)
	}
	return &Handler{classifier: c, templates: tpl}, nil
}

// Register mounts GET / and POST /ui/classify.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.index)
	r.Post("/ui/classify", h.classify)
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, NeutralCard("Upload an image to begin diagnosis."))
}

func (h *Handler) classify(w http.ResponseWriter, r *http.Request) {
	// Leave headroom for the multipart envelope; the classifier enforces the
	// exact limit on the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.classifier.MaxBytes())+1<<20)

	file, _, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.render(w, r, ErrorCard(h.tooLarge()))
			return
		}
		h.render(w, r, NeutralCard("Please upload a lesion image to analyze."))
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		h.render(w, r, ErrorCard("An error occurred during processing."))
		return
	}

	res, err := h.classifier.Classify(r.Context(), raw)
	switch {
	case errors.Is(err, classifier.ErrPayloadTooLarge):
		h.render(w, r, ErrorCard(h.tooLarge()))
	case err != nil:
		h.render(w, r, ErrorCard("An error occurred during processing."))
	default:
		h.render(w, r, ResultCard(res))
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, card Card) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "index.html", page{Card: card, Version: version.Short()}); err != nil {
		logging.FromContext(r.Context()).Error("render ui", "error", err)
	}
}

func (h *Handler) tooLarge() string {
	return fmt.Sprintf("File too large. Max size is %dMB.", h.classifier.MaxBytes()>>20)
}
