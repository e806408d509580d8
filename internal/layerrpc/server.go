package layerrpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tuist/fabrik/internal/store"
)

// streamChunkSize is the Get response chunk size, within the protocol
// table's 64 KiB-1 MiB range.
const streamChunkSize = 256 * 1024

// Server answers the inter-layer protocol over a local store.Composite —
// typically a *diskstore.Store, or a *composer.Composer when the Layer 2
// instance being asked is itself layered over an origin.
type Server struct {
	backend store.Composite
}

// NewServer wraps backend to serve the inter-layer RPC protocol.
func NewServer(backend store.Composite) *Server {
	return &Server{backend: backend}
}

var _ LayerServer = (*Server)(nil)

func (s *Server) Exists(ctx context.Context, req *ExistsRequest) (*ExistsResponse, error) {
	hash, err := store.ParseHash(req.Hash)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ok, err := s.backend.Exists(ctx, hash)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &ExistsResponse{Exists: ok}, nil
}

func (s *Server) Info(ctx context.Context, req *InfoRequest) (*InfoResponse, error) {
	hash, err := store.ParseHash(req.Hash)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	info, err := s.backend.Info(ctx, hash)
	if err != nil {
		return nil, toStatus(err)
	}
	return &InfoResponse{
		Size:         info.Size,
		CreatedAtNS:  info.CreatedAt.UnixNano(),
		AccessedAtNS: info.LastAccessed.UnixNano(),
		AccessCount:  info.AccessCount,
	}, nil
}

// Get streams the blob in streamChunkSize frames terminated by an explicit
// Eof frame. A client-cancelled context unwinds this loop at the next chunk
// boundary, per the protocol's cancellation guarantee.
func (s *Server) Get(req *GetRequest, stream grpc.ServerStream) error {
	hash, err := store.ParseHash(req.Hash)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	rc, err := s.backend.Get(stream.Context(), hash)
	if err != nil {
		return toStatus(err)
	}
	defer rc.Close()

	buf := make([]byte, streamChunkSize)
	for {
		if err := stream.Context().Err(); err != nil {
			return nil // cancellation is normal termination, not an error reply
		}
		n, rerr := rc.Read(buf)
		if n > 0 {
			chunk := &GetChunk{Data: append([]byte(nil), buf[:n]...)}
			if err := stream.SendMsg(chunk); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			return stream.SendMsg(&GetChunk{Eof: true})
		}
		if rerr != nil {
			return status.Error(codes.Internal, rerr.Error())
		}
	}
}

// Put streams the first-frame-carries-hash client stream straight into the
// backend's Put as frames arrive, rather than reassembling the whole body
// first, so a blob larger than a single frame is never fully buffered here.
// The backend performs the authoritative hash/size verification.
func (s *Server) Put(stream grpc.ServerStream) error {
	first := new(PutChunk)
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	hash, err := store.ParseHash(first.Hash)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	body := &putStreamReader{stream: stream, buf: first.Data}
	digest, err := s.backend.Put(stream.Context(), hash, first.Size, body)
	if err != nil {
		if errors.Is(err, store.ErrHashMismatch) {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		return toStatus(err)
	}
	return stream.SendMsg(&PutResponse{Hash: digest.Hash.String(), Size: digest.Size})
}

// putStreamReader adapts the PutChunk frame sequence of a client stream to
// io.Reader, pulling the next frame only once the previous one's bytes are
// exhausted.
type putStreamReader struct {
	stream grpc.ServerStream
	buf    []byte
	done   bool
}

func (r *putStreamReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		frame := new(PutChunk)
		err := r.stream.RecvMsg(frame)
		if err == io.EOF {
			r.done = true
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		r.buf = frame.Data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (s *Server) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	hash, err := store.ParseHash(req.Hash)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.backend.Delete(ctx, hash); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &DeleteResponse{}, nil
}

func (s *Server) GetStats(ctx context.Context, req *GetStatsRequest) (*StatsResponse, error) {
	st, err := s.backend.Stats(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &StatsResponse{
		CacheHits: st.CacheHits, CacheMisses: st.CacheMisses, ObjectCount: st.ObjectCount,
		TotalBytes: st.TotalBytes, Evictions: st.Evictions, UploadBytes: st.UploadBytes,
		DownloadBytes: st.DownloadBytes, UpstreamHits: st.UpstreamHits, UpstreamMisses: st.UpstreamMisses,
		P2PHits: st.P2PHits, P2PMisses: st.P2PMisses,
	}, nil
}

func (s *Server) KVGet(ctx context.Context, req *KVGetRequest) (*KVGetResponse, error) {
	v, err := s.backend.KVGet(ctx, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &KVGetResponse{Value: v}, nil
}

func (s *Server) KVPut(ctx context.Context, req *KVPutRequest) (*KVPutResponse, error) {
	if err := s.backend.KVPut(ctx, req.Key, req.Value); err != nil {
		return nil, toStatus(err)
	}
	return &KVPutResponse{}, nil
}

func (s *Server) KVExists(ctx context.Context, req *KVExistsRequest) (*KVExistsResponse, error) {
	ok, err := s.backend.KVExists(ctx, req.Key)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &KVExistsResponse{Exists: ok}, nil
}

func (s *Server) KVDelete(ctx context.Context, req *KVDeleteRequest) (*KVDeleteResponse, error) {
	if err := s.backend.KVDelete(ctx, req.Key); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &KVDeleteResponse{}, nil
}

func (s *Server) KVList(req *KVListRequest, stream grpc.ServerStream) error {
	it, err := s.backend.KVList(stream.Context(), req.Prefix)
	if err != nil {
		return toStatus(err)
	}
	defer it.Close()

	for it.Next(stream.Context()) {
		if err := stream.SendMsg(&KVListChunk{Key: it.Key()}); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(&KVListChunk{Eof: true})
}

func toStatus(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
