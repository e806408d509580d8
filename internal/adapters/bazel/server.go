package bazel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tuist/fabrik/internal/store"
)

// maxBatchFanOut bounds how many blobs a single FindMissingBlobs/
// BatchUpdateBlobs/BatchReadBlobs call touches concurrently, per §4.6's
// "internally decomposed into N concurrent unary operations with a bounded
// fan-out" rule.
const maxBatchFanOut = 16

// actionCachePrefix namespaces ActionCache entries within the shared KV
// store, separate from recipe manifests and other KV consumers.
const actionCachePrefix = "bazel-ac:"

// Server implements the Bazel REAPI front end over a shared store.Composite
// backend.
type Server struct {
	backend       store.Composite
	maxBatchBytes int64
}

// NewServer builds a Server. maxBatchBytes is advertised via
// GetCapabilities so well-behaved clients size their own batches.
func NewServer(backend store.Composite, maxBatchBytes int64) *Server {
	return &Server{backend: backend, maxBatchBytes: maxBatchBytes}
}

func (s *Server) FindMissingBlobs(ctx context.Context, req *FindMissingBlobsRequest) (*FindMissingBlobsResponse, error) {
	present := make([]bool, len(req.BlobDigests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchFanOut)
	for i, d := range req.BlobDigests {
		i, d := i, d
		g.Go(func() error {
			hash, err := store.ParseHash(d.Hash)
			if err != nil {
				return status.Error(codes.InvalidArgument, err.Error())
			}
			ok, err := s.backend.Exists(gctx, hash)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			present[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &FindMissingBlobsResponse{}
	for i, d := range req.BlobDigests {
		if !present[i] {
			out.MissingBlobDigests = append(out.MissingBlobDigests, d)
		}
	}
	return out, nil
}

func (s *Server) BatchUpdateBlobs(ctx context.Context, req *BatchUpdateBlobsRequest) (*BatchUpdateBlobsResponse, error) {
	responses := make([]BlobUpdateResponse, len(req.Requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchFanOut)
	for i, r := range req.Requests {
		i, r := i, r
		g.Go(func() error {
			hash, err := store.ParseHash(r.Digest.Hash)
			if err != nil {
				responses[i] = BlobUpdateResponse{Digest: r.Digest, Status: Status{Code: int32(codes.InvalidArgument), Message: err.Error()}}
				return nil
			}
			if _, err := s.backend.Put(gctx, hash, r.Digest.SizeBytes, bytes.NewReader(r.Data)); err != nil {
				responses[i] = BlobUpdateResponse{Digest: r.Digest, Status: toBatchStatus(err)}
				return nil
			}
			responses[i] = BlobUpdateResponse{Digest: r.Digest, Status: ok()}
			return nil
		})
	}
	g.Wait() // per-item errors are reported in responses, not returned
	return &BatchUpdateBlobsResponse{Responses: responses}, nil
}

func (s *Server) BatchReadBlobs(ctx context.Context, req *BatchReadBlobsRequest) (*BatchReadBlobsResponse, error) {
	responses := make([]BlobReadResponse, len(req.Digests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchFanOut)
	for i, d := range req.Digests {
		i, d := i, d
		g.Go(func() error {
			hash, err := store.ParseHash(d.Hash)
			if err != nil {
				responses[i] = BlobReadResponse{Digest: d, Status: Status{Code: int32(codes.InvalidArgument), Message: err.Error()}}
				return nil
			}
			rc, err := s.backend.Get(gctx, hash)
			if err != nil {
				responses[i] = BlobReadResponse{Digest: d, Status: toBatchStatus(err)}
				return nil
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				responses[i] = BlobReadResponse{Digest: d, Status: toBatchStatus(err)}
				return nil
			}
			responses[i] = BlobReadResponse{Digest: d, Data: data, Status: ok()}
			return nil
		})
	}
	g.Wait()
	return &BatchReadBlobsResponse{Responses: responses}, nil
}

func toBatchStatus(err error) Status {
	if errors.Is(err, store.ErrNotFound) {
		return Status{Code: int32(codes.NotFound), Message: err.Error()}
	}
	return Status{Code: int32(codes.Internal), Message: err.Error()}
}

// GetTree walks the directory tree rooted at req.RootDigest, returning
// every Directory node reachable from it in a single page.
func (s *Server) GetTree(ctx context.Context, req *GetTreeRequest) (*GetTreeResponse, error) {
	root, err := store.ParseHash(req.RootDigest.Hash)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var out []Directory
	queue := []store.Hash{root}
	seen := map[store.Hash]bool{}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if seen[h] {
			continue
		}
		seen[h] = true

		rc, err := s.backend.Get(ctx, h)
		if err != nil {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		var dir Directory
		if err := json.Unmarshal(raw, &dir); err != nil {
			return nil, status.Error(codes.InvalidArgument, "not a directory blob: "+err.Error())
		}
		out = append(out, dir)
		for _, child := range dir.Directories {
			childHash, err := store.ParseHash(child.Hash)
			if err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			queue = append(queue, childHash)
		}
	}
	return &GetTreeResponse{Directories: out}, nil
}

func (s *Server) GetActionResult(ctx context.Context, req *GetActionResultRequest) (*ActionResult, error) {
	raw, err := s.backend.KVGet(ctx, actionCachePrefix+req.ActionDigest.Hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "action result not cached")
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	var result ActionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &result, nil
}

func (s *Server) UpdateActionResult(ctx context.Context, req *UpdateActionResultRequest) (*ActionResult, error) {
	raw, err := json.Marshal(req.ActionResult)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if err := s.backend.KVPut(ctx, actionCachePrefix+req.ActionDigest.Hash, raw); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &req.ActionResult, nil
}

func (s *Server) GetCapabilities(ctx context.Context, req *GetCapabilitiesRequest) (*ServerCapabilities, error) {
	return &ServerCapabilities{CacheCapabilities: CacheCapabilities{MaxBatchTotalSizeBytes: s.maxBatchBytes}}, nil
}
