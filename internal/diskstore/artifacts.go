package diskstore

import (
	"context"
	"fmt"
	"time"

	"github.com/tuist/fabrik/internal/store"
)

// ArtifactSort selects the ordering for ListArtifacts.
type ArtifactSort string

const (
	SortSizeDesc     ArtifactSort = "size_desc"
	SortCreatedDesc  ArtifactSort = "created_desc"
	SortAccessedDesc ArtifactSort = "accessed_desc"
)

var artifactOrderBy = map[ArtifactSort]string{
	SortSizeDesc:     "size DESC",
	SortCreatedDesc:  "created_at DESC",
	SortAccessedDesc: "last_accessed DESC",
}

// Artifact is one row of the observability artifact listing: store.Info
// plus the hash it describes.
type Artifact struct {
	Hash string
	store.Info
}

// ListArtifacts returns up to limit artifacts starting at offset, ordered by
// sort. An unrecognized sort falls back to created_desc.
func (s *Store) ListArtifacts(ctx context.Context, limit, offset int, sort ArtifactSort) ([]Artifact, error) {
	orderBy, ok := artifactOrderBy[sort]
	if !ok {
		orderBy = artifactOrderBy[SortCreatedDesc]
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(
		`SELECT hash, size, created_at, last_accessed, access_count
		 FROM blob_meta WHERE quarantined = 0
		 ORDER BY %s LIMIT ? OFFSET ?`, orderBy)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("diskstore: listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var createdNS, accessedNS int64
		if err := rows.Scan(&a.Hash, &a.Size, &createdNS, &accessedNS, &a.AccessCount); err != nil {
			return nil, fmt.Errorf("diskstore: scanning artifact row: %w", err)
		}
		a.CreatedAt = time.Unix(0, createdNS)
		a.LastAccessed = time.Unix(0, accessedNS)
		out = append(out, a)
	}
	return out, rows.Err()
}
