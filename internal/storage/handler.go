package storage

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler serves blobs from a BlobStore with byte-range support.
type Handler struct {
	store  *BlobStore
	issuer *Issuer
	log    *slog.Logger
}

// NewHandler returns a blob handler. A nil issuer serves blobs without
// checking the sig parameter.
func NewHandler(store *BlobStore, issuer *Issuer, log *slog.Logger) *Handler {
	return &Handler{store: store, issuer: issuer, log: log}
}

// Routes mounts GET and HEAD /{name}.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/{name}", h.ServeBlob)
	r.Head("/{name}", h.ServeBlob)
}

// ServeBlob handles GET /{name}.
func (h *Handler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.issuer != nil {
		if err := h.issuer.Verify(r.URL.Query().Get(SignatureParam), name); err != nil {
			h.log.Warn("blob access denied", "blob", name, "error", err)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	f, err := h.store.Open(name)
	if err != nil {
		if errors.Is(err, ErrInvalidName) || errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		h.log.Error("failed to open blob", "blob", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.log.Error("failed to stat blob", "blob", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}
