package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/tuist/fabrik/internal/auth"
	"github.com/tuist/fabrik/internal/diskstore"
	"github.com/tuist/fabrik/internal/store"
)

// requestIDHeader is echoed back on every response so a build tool can
// correlate its own logs with this daemon's.
const requestIDHeader = "X-Request-Id"

// WithRequestID stamps every response with a fresh request id unless the
// caller already supplied one, mirroring reverse-proxy convention.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// Backend is the subset of *diskstore.Store the observability API needs:
// the stats rollup and the artifact listing used by /api/v1/artifacts.
// Defined narrowly here (rather than depending on store.Composite) because
// ListArtifacts has no place in that interface — every other local-backend
// consumer only needs CAS/KV/Stats.
type Backend interface {
	Stats(ctx context.Context) (store.Stats, error)
	ListArtifacts(ctx context.Context, limit, offset int, sort diskstore.ArtifactSort) ([]diskstore.Artifact, error)
	Info(ctx context.Context, hash store.Hash) (store.Info, error)
	Delete(ctx context.Context, hash store.Hash) error
}

// AdminConfig gates the admin endpoints, disabled by default per §4.9.
type AdminConfig struct {
	Enabled   bool
	Validator auth.Validator
}

// Mux builds the observability HTTP surface: /health (always on,
// unauthenticated), /metrics (authenticated unless validator is nil),
// and the /api/v1/* read and admin endpoints.
func Mux(f *Facade, backend Backend, validator auth.Validator, admin AdminConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", f.handleHealth)
	mux.HandleFunc("GET /metrics", requireAuth(validator, f.MetricsHandler().ServeHTTP))
	mux.HandleFunc("GET /api/v1/artifacts", requireAuth(validator, handleListArtifacts(backend)))
	mux.HandleFunc("GET /api/v1/artifacts/{hash}", requireAuth(validator, handleGetArtifact(backend)))
	mux.HandleFunc("GET /api/v1/stats", requireAuth(validator, handleStats(backend)))
	mux.HandleFunc("POST /api/v1/admin/evict", requireAdmin(validator, admin, handleEvict(backend)))
	mux.HandleFunc("POST /api/v1/admin/clear", requireAdmin(validator, admin, handleClear(backend)))
	return mux
}

func (f *Facade) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(f.Uptime().Seconds()),
		"version":        f.Version(),
	})
}

func requireAuth(v auth.Validator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if v == nil {
			next(w, r)
			return
		}
		if _, err := v.Validate(r.Context(), bearerToken(r)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func requireAdmin(v auth.Validator, admin AdminConfig, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !admin.Enabled {
			http.Error(w, "admin endpoints disabled", http.StatusNotFound)
			return
		}
		validator := v
		if admin.Validator != nil {
			validator = admin.Validator
		}
		if validator == nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		claims, err := validator.Validate(r.Context(), bearerToken(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := auth.RequireAdmin(claims); err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func handleListArtifacts(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		sort := diskstore.ArtifactSort(r.URL.Query().Get("sort"))
		if sort == "" {
			sort = diskstore.SortCreatedDesc
		}

		artifacts, err := backend.ListArtifacts(r.Context(), limit, offset, sort)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": artifacts})
	}
}

func handleGetArtifact(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash, err := store.ParseHash(r.PathValue("hash"))
		if err != nil {
			http.Error(w, "invalid hash", http.StatusBadRequest)
			return
		}
		info, err := backend.Info(r.Context(), hash)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func handleStats(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := backend.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"cache_hits":     stats.CacheHits,
			"cache_misses":   stats.CacheMisses,
			"hit_ratio":      stats.HitRatio(),
			"object_count":   stats.ObjectCount,
			"total_bytes":    stats.TotalBytes,
			"evictions":      stats.Evictions,
			"upload_bytes":   stats.UploadBytes,
			"download_bytes": stats.DownloadBytes,
		})
	}
}

func handleEvict(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hashParam := r.URL.Query().Get("hash")
		hash, err := store.ParseHash(hashParam)
		if err != nil {
			http.Error(w, "invalid hash", http.StatusBadRequest)
			return
		}
		if err := backend.Delete(r.Context(), hash); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClear(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Clearing the entire cache is destructive and rarely used in
		// practice; it walks the artifact listing in pages and deletes
		// each entry rather than requiring a dedicated bulk-delete path
		// on every backend implementation.
		ctx := r.Context()
		const pageSize = 256
		for {
			page, err := backend.ListArtifacts(ctx, pageSize, 0, diskstore.SortCreatedDesc)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if len(page) == 0 {
				break
			}
			for _, a := range page {
				hash, err := store.ParseHash(a.Hash)
				if err != nil {
					continue
				}
				backend.Delete(ctx, hash)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
