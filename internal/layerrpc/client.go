package layerrpc

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/tuist/fabrik/internal/auth"
	"github.com/tuist/fabrik/internal/grpccodec"
	"github.com/tuist/fabrik/internal/store"
)

// Client implements store.CAS, store.KV, and Name() against a remote layer
// over the inter-layer RPC protocol, satisfying composer.Upstream without
// that package importing layerrpc (composer only knows the interface).
type Client struct {
	name  string
	conn  *grpc.ClientConn
	token string
}

// Dial connects to target (host:port) and returns a Client identified by
// name for logging/metrics. token is attached to every call as a bearer
// credential; pass "" when the remote has authentication disabled. Transport
// defaults to insecure (LAN/localhost inter-layer traffic, same as
// internal/peer's racing client); pass a grpc.WithTransportCredentials
// dialOpt to use real TLS instead — it overrides this default since
// dialOpts are appended after it.
func Dial(ctx context.Context, name, target, token string, dialOpts ...grpc.DialOption) (*Client, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpccodec.Name)),
	}, dialOpts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("layerrpc: dial %s: %w", target, err)
	}
	return &Client{name: name, conn: conn, token: token}, nil
}

func (c *Client) Name() string { return c.name }

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) ctx(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return auth.WithBearerToken(ctx, c.token)
}

func (c *Client) Exists(ctx context.Context, hash store.Hash) (bool, error) {
	resp := new(ExistsResponse)
	err := c.conn.Invoke(c.ctx(ctx), "/"+serviceName+"/Exists", &ExistsRequest{Hash: hash.String()}, resp)
	if err != nil {
		return false, c.fromStatus(err)
	}
	return resp.Exists, nil
}

func (c *Client) Info(ctx context.Context, hash store.Hash) (store.Info, error) {
	resp := new(InfoResponse)
	err := c.conn.Invoke(c.ctx(ctx), "/"+serviceName+"/Info", &InfoRequest{Hash: hash.String()}, resp)
	if err != nil {
		return store.Info{}, c.fromStatus(err)
	}
	return store.Info{
		Size:         resp.Size,
		CreatedAt:    time.Unix(0, resp.CreatedAtNS),
		LastAccessed: time.Unix(0, resp.AccessedAtNS),
		AccessCount:  resp.AccessCount,
	}, nil
}

func (c *Client) Get(ctx context.Context, hash store.Hash) (io.ReadCloser, error) {
	desc := &grpc.StreamDesc{StreamName: "Get", ServerStreams: true}
	stream, err := c.conn.NewStream(c.ctx(ctx), desc, "/"+serviceName+"/Get")
	if err != nil {
		return nil, c.fromStatus(err)
	}
	if err := stream.SendMsg(&GetRequest{Hash: hash.String()}); err != nil {
		return nil, c.fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, c.fromStatus(err)
	}
	// Receive the first frame here so a missing hash surfaces as an error
	// from Get rather than from the first Read.
	r := &getStreamReader{stream: stream}
	first := new(GetChunk)
	if err := stream.RecvMsg(first); err != nil {
		if err == io.EOF {
			r.done = true
			return r, nil
		}
		return nil, c.fromStatus(err)
	}
	if first.Eof {
		r.done = true
	} else {
		r.buf = first.Data
	}
	return r, nil
}

type getStreamReader struct {
	stream grpc.ClientStream
	buf    []byte
	done   bool
}

func (r *getStreamReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		chunk := new(GetChunk)
		if err := r.stream.RecvMsg(chunk); err != nil {
			if err == io.EOF {
				r.done = true
				return 0, io.EOF
			}
			return 0, fromStatus(err)
		}
		if chunk.Eof {
			r.done = true
			return 0, io.EOF
		}
		r.buf = chunk.Data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *getStreamReader) Close() error { return nil }

func (c *Client) Put(ctx context.Context, hash store.Hash, size int64, body io.Reader) (store.Digest, error) {
	desc := &grpc.StreamDesc{StreamName: "Put", ClientStreams: true}
	stream, err := c.conn.NewStream(c.ctx(ctx), desc, "/"+serviceName+"/Put")
	if err != nil {
		return store.Digest{}, c.fromStatus(err)
	}

	if err := stream.SendMsg(&PutChunk{Hash: hash.String(), Size: size}); err != nil {
		return store.Digest{}, c.fromStatus(err)
	}

	buf := make([]byte, streamChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if err := stream.SendMsg(&PutChunk{Data: append([]byte(nil), buf[:n]...)}); err != nil {
				return store.Digest{}, c.fromStatus(err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return store.Digest{}, fmt.Errorf("layerrpc: put: reading body: %w", rerr)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return store.Digest{}, c.fromStatus(err)
	}

	resp := new(PutResponse)
	if err := stream.RecvMsg(resp); err != nil {
		return store.Digest{}, c.fromStatus(err)
	}
	got, err := store.ParseHash(resp.Hash)
	if err != nil {
		return store.Digest{}, fmt.Errorf("layerrpc: put: malformed response hash: %w", err)
	}
	return store.Digest{Hash: got, Size: resp.Size}, nil
}

func (c *Client) Delete(ctx context.Context, hash store.Hash) error {
	resp := new(DeleteResponse)
	err := c.conn.Invoke(c.ctx(ctx), "/"+serviceName+"/Delete", &DeleteRequest{Hash: hash.String()}, resp)
	return c.fromStatus(err)
}

func (c *Client) GetStats(ctx context.Context) (store.Stats, error) {
	resp := new(StatsResponse)
	err := c.conn.Invoke(c.ctx(ctx), "/"+serviceName+"/GetStats", &GetStatsRequest{}, resp)
	if err != nil {
		return store.Stats{}, c.fromStatus(err)
	}
	return store.Stats{
		CacheHits: resp.CacheHits, CacheMisses: resp.CacheMisses, ObjectCount: resp.ObjectCount,
		TotalBytes: resp.TotalBytes, Evictions: resp.Evictions, UploadBytes: resp.UploadBytes,
		DownloadBytes: resp.DownloadBytes, UpstreamHits: resp.UpstreamHits, UpstreamMisses: resp.UpstreamMisses,
		P2PHits: resp.P2PHits, P2PMisses: resp.P2PMisses,
	}, nil
}

func (c *Client) KVGet(ctx context.Context, key string) ([]byte, error) {
	resp := new(KVGetResponse)
	err := c.conn.Invoke(c.ctx(ctx), "/"+serviceName+"/KVGet", &KVGetRequest{Key: key}, resp)
	if err != nil {
		return nil, c.fromStatus(err)
	}
	return resp.Value, nil
}

func (c *Client) KVPut(ctx context.Context, key string, value []byte) error {
	resp := new(KVPutResponse)
	err := c.conn.Invoke(c.ctx(ctx), "/"+serviceName+"/KVPut", &KVPutRequest{Key: key, Value: value}, resp)
	return c.fromStatus(err)
}

func (c *Client) KVExists(ctx context.Context, key string) (bool, error) {
	resp := new(KVExistsResponse)
	err := c.conn.Invoke(c.ctx(ctx), "/"+serviceName+"/KVExists", &KVExistsRequest{Key: key}, resp)
	if err != nil {
		return false, c.fromStatus(err)
	}
	return resp.Exists, nil
}

func (c *Client) KVDelete(ctx context.Context, key string) error {
	resp := new(KVDeleteResponse)
	err := c.conn.Invoke(c.ctx(ctx), "/"+serviceName+"/KVDelete", &KVDeleteRequest{Key: key}, resp)
	return c.fromStatus(err)
}

func (c *Client) KVList(ctx context.Context, prefix string) (store.KeyIterator, error) {
	desc := &grpc.StreamDesc{StreamName: "KVList", ServerStreams: true}
	stream, err := c.conn.NewStream(c.ctx(ctx), desc, "/"+serviceName+"/KVList")
	if err != nil {
		return nil, c.fromStatus(err)
	}
	if err := stream.SendMsg(&KVListRequest{Prefix: prefix}); err != nil {
		return nil, c.fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, c.fromStatus(err)
	}
	return &kvListStream{stream: stream}, nil
}

type kvListStream struct {
	stream grpc.ClientStream
	cur    string
	err    error
	done   bool
}

func (s *kvListStream) Next(ctx context.Context) bool {
	if s.err != nil || s.done {
		return false
	}
	chunk := new(KVListChunk)
	if err := s.stream.RecvMsg(chunk); err != nil {
		if err != io.EOF {
			s.err = fromStatus(err)
		}
		s.done = true
		return false
	}
	if chunk.Eof {
		s.done = true
		return false
	}
	s.cur = chunk.Key
	return true
}

func (s *kvListStream) Key() string  { return s.cur }
func (s *kvListStream) Err() error   { return s.err }
func (s *kvListStream) Close() error { return nil }

func (c *Client) fromStatus(err error) error { return mapStatus(c.name, err) }

func fromStatus(err error) error { return mapStatus("", err) }

func mapStatus(upstream string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return store.ErrNotFound
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", auth.ErrUnauthenticated, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", auth.ErrForbidden, st.Message())
	case codes.DeadlineExceeded:
		return &store.UpstreamError{Upstream: upstream, Kind: store.UpstreamTimeout, Err: err}
	case codes.InvalidArgument:
		return store.ErrHashMismatch
	default:
		return &store.UpstreamError{Upstream: upstream, Kind: store.UpstreamProtocol, Err: err}
	}
}
