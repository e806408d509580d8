// Package httpcas implements the plain-HTTP content-addressed cache
// protocol shared by the Gradle, Nx, TurboRepo, and Metro build-cache
// clients: PUT/GET/HEAD on a hash-addressed path. Metro additionally frames
// its body with gzip and a one-byte raw/JSON discriminator, which this
// adapter preserves on write and inspects on read.
package httpcas

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"

	"github.com/tuist/fabrik/internal/store"
)

// Handler serves the HTTP CAS protocol over a store.CAS backend.
type Handler struct {
	backend store.CAS
	metro   bool
}

// NewHandler builds a Handler. metro enables Metro's gzip-framed one-byte
// raw/JSON prefix inspection when serving GET responses; Gradle, Nx, and
// TurboRepo treat the body as opaque bytes and don't need it.
func NewHandler(backend store.CAS, metro bool) *Handler {
	return &Handler{backend: backend, metro: metro}
}

// Mount registers GET/HEAD/PUT for pattern on mux. pattern must name a
// "hash" or "key" path parameter, e.g. "/cache/{hash}" for Gradle/Nx/
// TurboRepo/Metro, or "/{bucket}/{key}" for sccache's S3-shaped surface.
func (h *Handler) Mount(mux *http.ServeMux, pattern string) {
	mux.HandleFunc("GET "+pattern, h.handleGet)
	mux.HandleFunc("HEAD "+pattern, h.handleHead)
	mux.HandleFunc("PUT "+pattern, h.handlePut)
}

func hashParam(r *http.Request) (store.Hash, error) {
	s := r.PathValue("hash")
	if s == "" {
		s = r.PathValue("key")
	}
	return store.ParseHash(s)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rc, err := h.backend.Get(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	if !h.metro {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		io.Copy(w, rc)
		return
	}

	body, err := io.ReadAll(rc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", metroContentType(body))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// metroContentType peeks the gzip-decompressed first byte of a stored
// Metro blob (0x00 means raw, otherwise JSON) to set a client-friendly
// Content-Type; the response body is written out unmodified, framing
// intact, since Metro does its own ungzipping.
func metroContentType(framed []byte) string {
	gz, err := gzip.NewReader(bytes.NewReader(framed))
	if err != nil {
		return "application/octet-stream"
	}
	defer gz.Close()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(gz, buf); err != nil || buf[0] == 0x00 {
		return "application/octet-stream"
	}
	return "application/json"
}

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info, err := h.backend.Info(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.ContentLength < 0 {
		http.Error(w, "Content-Length required", http.StatusLengthRequired)
		return
	}
	if _, err := h.backend.Put(r.Context(), hash, r.ContentLength, r.Body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case isNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case isBadRequest(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
func isBadRequest(err error) bool {
	return errors.Is(err, store.ErrHashMismatch) || errors.Is(err, store.ErrTooLarge)
}
