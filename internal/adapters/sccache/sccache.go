// Package sccache implements the small S3 object-API subset the sccache
// Rust compiler cache speaks: GET/PUT/HEAD on /<bucket>/<key>, with the
// object key doubling as the content hash.
package sccache

import (
	"net/http"

	"github.com/tuist/fabrik/internal/adapters/httpcas"
	"github.com/tuist/fabrik/internal/store"
)

// NewMux builds the sccache-compatible HTTP surface over backend, reusing
// the HTTP CAS adapter's handler with an S3-shaped path.
func NewMux(backend store.CAS) *http.ServeMux {
	mux := http.NewServeMux()
	httpcas.NewHandler(backend, false).Mount(mux, "/{bucket}/{key}")
	return mux
}
