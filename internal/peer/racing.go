package peer

import (
	"context"
	"errors"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/tuist/fabrik/internal/auth"
	"github.com/tuist/fabrik/internal/grpccodec"
	"github.com/tuist/fabrik/internal/store"
)

// RaceDeadline bounds the parallel Exists fan-out per §4.7's "<=5ms in
// target deployments" guidance. It is a fixed constant; no configuration
// setting overrides it.
const RaceDeadline = 5 * time.Millisecond

// ErrNoPeerHit means no consented peer answered Exists positively within
// the race deadline — the composer should fall through to its other
// upstreams, per §4.7's "on zero positives, fall through" rule.
var ErrNoPeerHit = errors.New("peer: no peer had the requested hash")

// RacingClient is the composer.Upstream implementation for the LAN peer
// layer: every Exists call internally fans out to all currently-consented,
// non-cooled-down peers and races them; Get finds (or re-races for) the
// winner and streams from it. Put/Delete/KV* are not supported — the peer
// layer never participates in writes or the KV namespace — so entries using
// this upstream must be configured read_only and write_through=false.
type RacingClient struct {
	table    *Table
	breakers *Breakers
	secret   []byte
	peerID   string // this instance's machine_id, sent as x-fabrik-peer-id
	dialOpts []grpc.DialOption

	conns map[string]*grpc.ClientConn
}

// NewRacingClient builds a RacingClient racing across table's peers.
func NewRacingClient(table *Table, breakers *Breakers, secret []byte, localMachineID string) *RacingClient {
	return &RacingClient{
		table: table, breakers: breakers, secret: secret, peerID: localMachineID,
		conns: make(map[string]*grpc.ClientConn),
	}
}

func (c *RacingClient) Name() string { return "peer-lan" }

func (c *RacingClient) dial(addr string) (*grpc.ClientConn, error) {
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpccodec.Name)),
	)
	if err != nil {
		return nil, err
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *RacingClient) authContext(ctx context.Context, body string) context.Context {
	token := auth.SignPeerMessage(c.secret, body, time.Now())
	return metadata.AppendToOutgoingContext(ctx, hmacMetadataKey, token, "x-fabrik-peer-id", c.peerID)
}

// Exists races Exists against every consented, non-cooled-down peer and
// reports true on the first positive within RaceDeadline.
func (c *RacingClient) Exists(ctx context.Context, hash store.Hash) (bool, error) {
	_, ok := c.race(ctx, hash)
	return ok, nil
}

// race returns the address of the first peer to answer Exists positively,
// or ("", false) if none did within the deadline.
func (c *RacingClient) race(ctx context.Context, hash store.Hash) (string, bool) {
	peers := c.table.Accepting()
	if len(peers) == 0 {
		return "", false
	}

	rctx, cancel := context.WithTimeout(ctx, RaceDeadline)
	defer cancel()

	type result struct {
		addr string
		ok   bool
	}
	results := make(chan result, len(peers))

	for _, p := range peers {
		if !c.breakers.Allowed(p.MachineID) {
			continue
		}
		p := p
		go func() {
			var ok bool
			err := c.breakers.Call(p.MachineID, func() error {
				conn, err := c.dial(p.Address)
				if err != nil {
					return err
				}
				resp := new(ExistsResponse)
				callCtx := c.authContext(rctx, hash.String())
				if err := conn.Invoke(callCtx, "/"+serviceName+"/Exists", &ExistsRequest{Hash: hash.String()}, resp); err != nil {
					return err
				}
				ok = resp.Exists
				return nil
			})
			results <- result{addr: p.Address, ok: err == nil && ok}
		}()
	}

	for i := 0; i < len(peers); i++ {
		select {
		case r := <-results:
			if r.ok {
				return r.addr, true
			}
		case <-rctx.Done():
			return "", false
		}
	}
	return "", false
}

// Get re-races Exists to find a winner (the composer may call Get without
// having just called Exists), then streams the blob from that peer.
func (c *RacingClient) Get(ctx context.Context, hash store.Hash) (io.ReadCloser, error) {
	addr, ok := c.race(ctx, hash)
	if !ok {
		return nil, ErrNoPeerHit
	}
	conn, err := c.dial(addr)
	if err != nil {
		return nil, err
	}

	desc := &grpc.StreamDesc{StreamName: "Get", ServerStreams: true}
	callCtx := c.authContext(ctx, hash.String())
	stream, err := conn.NewStream(callCtx, desc, "/"+serviceName+"/Get")
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&GetRequest{Hash: hash.String()}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &getStreamReader{stream: stream}, nil
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
			return 0, err
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

var errUnsupported = errors.New("peer: operation not supported by the LAN peer layer")

func (c *RacingClient) Info(ctx context.Context, hash store.Hash) (store.Info, error) {
	return store.Info{}, store.ErrNotFound
}

func (c *RacingClient) Put(ctx context.Context, hash store.Hash, size int64, body io.Reader) (store.Digest, error) {
	return store.Digest{}, errUnsupported
}

func (c *RacingClient) Delete(ctx context.Context, hash store.Hash) error { return errUnsupported }

func (c *RacingClient) KVGet(ctx context.Context, key string) ([]byte, error) {
	return nil, store.ErrNotFound
}

func (c *RacingClient) KVPut(ctx context.Context, key string, value []byte) error {
	return errUnsupported
}

func (c *RacingClient) KVExists(ctx context.Context, key string) (bool, error) { return false, nil }

func (c *RacingClient) KVDelete(ctx context.Context, key string) error { return errUnsupported }

func (c *RacingClient) KVList(ctx context.Context, prefix string) (store.KeyIterator, error) {
	return nil, errUnsupported
}

