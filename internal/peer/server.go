package peer

import (
	"context"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tuist/fabrik/internal/auth"
	"github.com/tuist/fabrik/internal/store"
)

const hmacMetadataKey = "x-fabrik-peer-auth"

// server answers the peer protocol over a local store.CAS, gated by HMAC
// auth and the consent Gate — a request for a hash from a peer that hasn't
// been consented to is rejected before the backend is ever consulted.
type server struct {
	backend   store.CAS
	secret    []byte
	gate      *Gate
	localID   string
	localVer  string
	accepting func() bool
}

// NewServer builds the peer protocol handler. accepting reports whether
// this instance currently wants to be discovered (TXT record's
// accepting=1|0 flag mirrored into Hello's response).
func NewServer(backend store.CAS, secret []byte, gate *Gate, localID, localVersion string, accepting func() bool) Server {
	return &server{backend: backend, secret: secret, gate: gate, localID: localID, localVer: localVersion, accepting: accepting}
}

func (s *server) authenticate(ctx context.Context, body string) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(hmacMetadataKey)
	peerIDs := md.Get("x-fabrik-peer-id")
	if len(vals) == 0 || len(peerIDs) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing peer auth header")
	}
	if err := auth.VerifyPeerMessage(s.secret, body, vals[0], time.Now()); err != nil {
		return "", status.Error(codes.Unauthenticated, err.Error())
	}
	return peerIDs[0], nil
}

func (s *server) Hello(ctx context.Context, req *HelloRequest) (*HelloResponse, error) {
	return &HelloResponse{MachineID: s.localID, Version: s.localVer, Accepting: s.accepting()}, nil
}

func (s *server) Exists(ctx context.Context, req *ExistsRequest) (*ExistsResponse, error) {
	peerID, err := s.authenticate(ctx, req.Hash)
	if err != nil {
		return nil, err
	}
	allowed, err := s.gate.Allow(peerID, "")
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !allowed {
		return nil, status.Error(codes.PermissionDenied, "peer not consented")
	}

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
	ctx := stream.Context()
	peerID, err := s.authenticate(ctx, req.Hash)
	if err != nil {
		return err
	}
	allowed, err := s.gate.Allow(peerID, "")
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	if !allowed {
		return status.Error(codes.PermissionDenied, "peer not consented")
	}

	hash, err := store.ParseHash(req.Hash)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	rc, err := s.backend.Get(ctx, hash)
	if err != nil {
		return status.Error(codes.NotFound, err.Error())
	}
	defer rc.Close()

	buf := make([]byte, 256*1024)
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

