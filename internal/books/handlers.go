package books

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Brownie44l1/dermai-api/internal/logging"
)

// Handlers serves the book API.
type Handlers struct {
	Store Store
}

// Routes returns a chi.Router with the book endpoints; mount it at /api/books.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	return r
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	books, err := h.Store.List(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if books == nil {
		books = []Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	b, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	var b Book
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	created, err := h.Store.Create(r.Context(), b)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	var b Book
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	updated, err := h.Store.Update(r.Context(), id, b)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("ID: %s Deleted", id)})
}

func bookID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "book id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		id := chi.URLParam(r, "id")
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("ID: %s Does not exist", id))
	case errors.Is(err, ErrInvalid):
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrExists):
		writeDetail(w, http.StatusConflict, err.Error())
	default:
		logging.FromContext(r.Context()).Error("book store failure", "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

// Post is a blog post draft.
type Post struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Published *bool  `json:"published,omitempty"`
}

// Blog echoes a decoded Post back to the caller. Published defaults to true.
func Blog(w http.ResponseWriter, r *http.Request) {
	var p Post
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Title == "" || p.Body == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "title and body are required")
		return
	}
	if p.Published == nil {
		published := true
		p.Published = &published
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
