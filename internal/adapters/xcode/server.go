package xcode

import (
	"bytes"
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tuist/fabrik/internal/store"
)

const streamChunkSize = 256 * 1024

// server implements the Xcode CAS+KV surfaces over a shared
// store.Composite backend.
type server struct {
	backend store.Composite
}

// NewServer builds the Xcode adapter's gRPC handler.
func NewServer(backend store.Composite) Server {
	return &server{backend: backend}
}

func (s *server) Exists(ctx context.Context, req *ExistsRequest) (*ExistsResponse, error) {
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

func (s *server) Get(req *GetRequest, stream grpc.ServerStream) error {
	hash, err := store.ParseHash(req.Hash)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	rc, err := s.backend.Get(stream.Context(), hash)
	if err != nil {
		return status.Error(codes.NotFound, err.Error())
	}
	defer rc.Close()

	buf := make([]byte, streamChunkSize)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if err := stream.SendMsg(&GetChunk{Data: append([]byte(nil), buf[:n]...)}); err != nil {
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

// Put drives an incoming stream through the §4.6 session state machine:
// the first frame declares the hash, subsequent frames carry data, and a
// final Eof frame completes the session. Stream context cancellation at
// any point moves the session to Cancelled and aborts without persisting.
func (s *server) Put(stream grpc.ServerStream) error {
	sess := &putSession{}
	ctx := stream.Context()

	for {
		select {
		case <-ctx.Done():
			sess.cancel()
			return status.Error(codes.Canceled, ctx.Err().Error())
		default:
		}

		chunk := new(PutChunk)
		if err := stream.RecvMsg(chunk); err != nil {
			if err == io.EOF {
				sess.cancel()
				return status.Error(codes.InvalidArgument, "stream closed before end-of-stream frame")
			}
			sess.cancel()
			return err
		}

		if sess.state == Idle {
			if err := sess.declareHash(chunk.Hash); err != nil {
				sess.cancel()
				return status.Error(codes.InvalidArgument, err.Error())
			}
		}
		if len(chunk.Data) > 0 {
			if err := sess.appendData(chunk.Data); err != nil {
				sess.cancel()
				return status.Error(codes.InvalidArgument, err.Error())
			}
		}
		if chunk.Eof {
			if err := sess.finish(); err != nil {
				sess.cancel()
				return status.Error(codes.InvalidArgument, err.Error())
			}
			break
		}
	}

	hash, err := store.ParseHash(sess.hash)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	digest, err := s.backend.Put(ctx, hash, int64(len(sess.buf)), bytes.NewReader(sess.buf))
	if err != nil {
		return toPutStatus(err)
	}
	return stream.SendMsg(&PutResponse{Hash: digest.Hash.String(), Size: digest.Size})
}

func toPutStatus(err error) error {
	switch {
	case errors.Is(err, store.ErrHashMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrTooLarge):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func (s *server) KVGet(ctx context.Context, req *KVGetRequest) (*KVGetResponse, error) {
	val, err := s.backend.KVGet(ctx, req.Key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &KVGetResponse{Value: val}, nil
}

func (s *server) KVPut(ctx context.Context, req *KVPutRequest) (*KVPutResponse, error) {
	if err := s.backend.KVPut(ctx, req.Key, req.Value); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &KVPutResponse{}, nil
}

func (s *server) KVExists(ctx context.Context, req *KVExistsRequest) (*KVExistsResponse, error) {
	ok, err := s.backend.KVExists(ctx, req.Key)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &KVExistsResponse{Exists: ok}, nil
}
