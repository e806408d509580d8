package layerrpc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/tuist/fabrik/internal/auth"
	"github.com/tuist/fabrik/internal/diskstore"
	"github.com/tuist/fabrik/internal/store"
)

const bufSize = 1 << 20

// newTestHarness spins up a real in-process gRPC server (via bufconn, no
// real socket) wrapping a fresh diskstore, guarded by validator, and
// returns a dialed Client plus a cleanup func.
func newTestHarness(t *testing.T, validator auth.Validator, token string) (*Client, store.Composite) {
	t.Helper()

	backend, err := diskstore.Open(diskstore.Options{Path: t.TempDir() + "/fabrik.db"})
	if err != nil {
		t.Fatalf("diskstore.Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(AuthUnaryInterceptor(validator)),
		grpc.StreamInterceptor(AuthStreamInterceptor(validator)),
	)
	RegisterLayerServer(srv, NewServer(backend))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	client := &Client{name: "test-layer", conn: conn, token: token}
	return client, backend
}

func TestClientPutGetRoundTrip(t *testing.T) {
	v := auth.StaticValidator{Claims: auth.Claims{Subject: "t", CanWrite: true}}
	client, _ := newTestHarness(t, v, "any-token")
	ctx := context.Background()

	data := []byte("inter-layer payload")
	d := store.SumBytes(data)

	digest, err := client.Put(ctx, d.Hash, d.Size, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if digest.Hash != d.Hash || digest.Size != d.Size {
		t.Fatalf("Put digest = %+v, want %+v", digest, d)
	}

	ok, err := client.Exists(ctx, d.Hash)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true, nil", ok, err)
	}

	rc, err := client.Get(ctx, d.Hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}

	if err := client.Delete(ctx, d.Hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := client.Exists(ctx, d.Hash); ok {
		t.Error("Exists after Delete = true")
	}
}

func TestClientGetMissingReturnsErrNotFound(t *testing.T) {
	v := auth.StaticValidator{Claims: auth.Claims{Subject: "t", CanWrite: true}}
	client, _ := newTestHarness(t, v, "tok")

	missing := store.SumBytes([]byte("never stored")).Hash
	_, err := client.Get(context.Background(), missing)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestClientKVRoundTrip(t *testing.T) {
	v := auth.StaticValidator{Claims: auth.Claims{Subject: "t", CanWrite: true}}
	client, _ := newTestHarness(t, v, "tok")
	ctx := context.Background()

	if err := client.KVPut(ctx, "recipe:abc", []byte("manifest-bytes")); err != nil {
		t.Fatalf("KVPut: %v", err)
	}
	got, err := client.KVGet(ctx, "recipe:abc")
	if err != nil || string(got) != "manifest-bytes" {
		t.Fatalf("KVGet = %q, %v; want manifest-bytes, nil", got, err)
	}

	it, err := client.KVList(ctx, "recipe:")
	if err != nil {
		t.Fatalf("KVList: %v", err)
	}
	defer it.Close()
	var keys []string
	for it.Next(ctx) {
		keys = append(keys, it.Key())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "recipe:abc" {
		t.Fatalf("KVList = %v, want [recipe:abc]", keys)
	}

	if err := client.KVDelete(ctx, "recipe:abc"); err != nil {
		t.Fatalf("KVDelete: %v", err)
	}
	if ok, _ := client.KVExists(ctx, "recipe:abc"); ok {
		t.Error("KVExists after KVDelete = true")
	}
}

func TestClientGetStats(t *testing.T) {
	v := auth.StaticValidator{Claims: auth.Claims{Subject: "t", CanWrite: true}}
	client, backend := newTestHarness(t, v, "tok")
	ctx := context.Background()

	data := []byte("stats payload")
	d := store.SumBytes(data)
	if _, err := backend.Put(ctx, d.Hash, d.Size, bytes.NewReader(data)); err != nil {
		t.Fatalf("seeding backend: %v", err)
	}
	rc, err := backend.Get(ctx, d.Hash)
	if err != nil {
		t.Fatalf("warm read: %v", err)
	}
	rc.Close()

	stats, err := client.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.CacheHits < 1 {
		t.Errorf("GetStats.CacheHits = %d, want >= 1", stats.CacheHits)
	}
}

// failingValidator rejects every token, exercising the auth interceptors.
type failingValidator struct{}

func (failingValidator) Validate(ctx context.Context, token string) (auth.Claims, error) {
	return auth.Claims{}, auth.ErrUnauthenticated
}

func TestUnauthenticatedCallIsRejected(t *testing.T) {
	client, _ := newTestHarness(t, failingValidator{}, "doesnt-matter")

	_, err := client.Exists(context.Background(), store.SumBytes([]byte("x")).Hash)
	if !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("Exists error = %v, want wrapping ErrUnauthenticated", err)
	}
}

// writeGatedValidator authenticates everyone but only authorizes writes for
// subjects named "writer".
type writeGatedValidator struct{}

func (writeGatedValidator) Validate(ctx context.Context, token string) (auth.Claims, error) {
	return auth.Claims{Subject: token, CanWrite: token == "writer"}, nil
}

func TestReadOnlyTokenForbiddenFromPut(t *testing.T) {
	client, _ := newTestHarness(t, writeGatedValidator{}, "reader")
	ctx := context.Background()

	data := []byte("should be rejected")
	d := store.SumBytes(data)
	_, err := client.Put(ctx, d.Hash, d.Size, bytes.NewReader(data))
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("Put with read-only token error = %v, want wrapping ErrForbidden", err)
	}
}

func TestWriteTokenAllowedToPut(t *testing.T) {
	client, _ := newTestHarness(t, writeGatedValidator{}, "writer")
	ctx := context.Background()

	data := []byte("should succeed")
	d := store.SumBytes(data)
	if _, err := client.Put(ctx, d.Hash, d.Size, bytes.NewReader(data)); err != nil {
		t.Fatalf("Put with write token: %v", err)
	}
}

func TestInfoReflectsPut(t *testing.T) {
	v := auth.StaticValidator{Claims: auth.Claims{Subject: "t", CanWrite: true}}
	client, _ := newTestHarness(t, v, "tok")
	ctx := context.Background()

	data := bytes.Repeat([]byte{7}, 1024)
	d := store.SumBytes(data)
	if _, err := client.Put(ctx, d.Hash, d.Size, bytes.NewReader(data)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	info, err := client.Info(ctx, d.Hash)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("Info.Size = %d, want %d", info.Size, len(data))
	}
	if time.Since(info.CreatedAt) > time.Minute {
		t.Errorf("Info.CreatedAt = %v, looks stale", info.CreatedAt)
	}
}
