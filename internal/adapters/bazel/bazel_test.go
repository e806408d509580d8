package bazel

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	_ "github.com/tuist/fabrik/internal/grpccodec"

	"github.com/tuist/fabrik/internal/diskstore"
	"github.com/tuist/fabrik/internal/store"
)

const bufSize = 1 << 20

func newTestHarness(t *testing.T) (*grpc.ClientConn, store.Composite) {
	t.Helper()

	backend, err := diskstore.Open(diskstore.Options{Path: t.TempDir() + "/fabrik.db"})
	if err != nil {
		t.Fatalf("diskstore.Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	RegisterServices(srv, NewServer(backend, 4<<20))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, backend
}

func digestOf(data []byte) Digest {
	d := store.SumBytes(data)
	return Digest{Hash: d.Hash.String(), SizeBytes: d.Size}
}

func TestFindMissingBlobs(t *testing.T) {
	conn, backend := newTestHarness(t)
	ctx := context.Background()

	present := []byte("already cached")
	missing := []byte("not yet cached")
	d := store.SumBytes(present)
	if _, err := backend.Put(ctx, d.Hash, d.Size, bytes.NewReader(present)); err != nil {
		t.Fatalf("seeding backend: %v", err)
	}

	resp := new(FindMissingBlobsResponse)
	req := &FindMissingBlobsRequest{BlobDigests: []Digest{digestOf(present), digestOf(missing)}}
	if err := conn.Invoke(ctx, "/"+casServiceName+"/FindMissingBlobs", req, resp); err != nil {
		t.Fatalf("FindMissingBlobs: %v", err)
	}
	if len(resp.MissingBlobDigests) != 1 || resp.MissingBlobDigests[0].Hash != digestOf(missing).Hash {
		t.Fatalf("MissingBlobDigests = %+v, want only %q missing", resp.MissingBlobDigests, digestOf(missing).Hash)
	}
}

func TestBatchUpdateAndReadBlobs(t *testing.T) {
	conn, _ := newTestHarness(t)
	ctx := context.Background()

	a, b := []byte("blob a"), []byte("blob b")
	updateReq := &BatchUpdateBlobsRequest{Requests: []BlobUpdateRequest{
		{Digest: digestOf(a), Data: a},
		{Digest: digestOf(b), Data: b},
	}}
	updateResp := new(BatchUpdateBlobsResponse)
	if err := conn.Invoke(ctx, "/"+casServiceName+"/BatchUpdateBlobs", updateReq, updateResp); err != nil {
		t.Fatalf("BatchUpdateBlobs: %v", err)
	}
	for _, r := range updateResp.Responses {
		if r.Status.Code != 0 {
			t.Errorf("update status = %+v, want ok", r.Status)
		}
	}

	readReq := &BatchReadBlobsRequest{Digests: []Digest{digestOf(a), digestOf(b)}}
	readResp := new(BatchReadBlobsResponse)
	if err := conn.Invoke(ctx, "/"+casServiceName+"/BatchReadBlobs", readReq, readResp); err != nil {
		t.Fatalf("BatchReadBlobs: %v", err)
	}
	if len(readResp.Responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(readResp.Responses))
	}
	for _, r := range readResp.Responses {
		if r.Status.Code != 0 {
			t.Errorf("read status = %+v, want ok", r.Status)
		}
	}
}

func TestGetTreeWalksDirectories(t *testing.T) {
	conn, backend := newTestHarness(t)
	ctx := context.Background()

	leaf := Directory{Files: []FileNode{{Name: "main.go", Digest: digestOf([]byte("package main"))}}}
	leafBytes, _ := json.Marshal(leaf)
	leafDigest := store.SumBytes(leafBytes)
	if _, err := backend.Put(ctx, leafDigest.Hash, leafDigest.Size, bytes.NewReader(leafBytes)); err != nil {
		t.Fatalf("seeding leaf: %v", err)
	}

	root := Directory{Directories: []Digest{{Hash: leafDigest.Hash.String(), SizeBytes: leafDigest.Size}}}
	rootBytes, _ := json.Marshal(root)
	rootDigest := store.SumBytes(rootBytes)
	if _, err := backend.Put(ctx, rootDigest.Hash, rootDigest.Size, bytes.NewReader(rootBytes)); err != nil {
		t.Fatalf("seeding root: %v", err)
	}

	resp := new(GetTreeResponse)
	req := &GetTreeRequest{RootDigest: Digest{Hash: rootDigest.Hash.String(), SizeBytes: rootDigest.Size}}
	if err := conn.Invoke(ctx, "/"+casServiceName+"/GetTree", req, resp); err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if len(resp.Directories) != 2 {
		t.Fatalf("GetTree returned %d directories, want 2", len(resp.Directories))
	}
}

func TestActionCacheRoundTrip(t *testing.T) {
	conn, _ := newTestHarness(t)
	ctx := context.Background()

	actionDigest := digestOf([]byte("some action proto"))
	result := ActionResult{ExitCode: 0, OutputFiles: []FileNode{{Name: "out.bin", Digest: digestOf([]byte("built"))}}}

	updateReq := &UpdateActionResultRequest{ActionDigest: actionDigest, ActionResult: result}
	updateResp := new(ActionResult)
	if err := conn.Invoke(ctx, "/"+actionCacheServiceName+"/UpdateActionResult", updateReq, updateResp); err != nil {
		t.Fatalf("UpdateActionResult: %v", err)
	}

	getReq := &GetActionResultRequest{ActionDigest: actionDigest}
	getResp := new(ActionResult)
	if err := conn.Invoke(ctx, "/"+actionCacheServiceName+"/GetActionResult", getReq, getResp); err != nil {
		t.Fatalf("GetActionResult: %v", err)
	}
	if getResp.ExitCode != 0 || len(getResp.OutputFiles) != 1 {
		t.Fatalf("GetActionResult = %+v, want round-tripped result", getResp)
	}
}

func TestGetCapabilities(t *testing.T) {
	conn, _ := newTestHarness(t)
	resp := new(ServerCapabilities)
	if err := conn.Invoke(context.Background(), "/"+capabilitiesServiceName+"/GetCapabilities", &GetCapabilitiesRequest{}, resp); err != nil {
		t.Fatalf("GetCapabilities: %v", err)
	}
	if resp.CacheCapabilities.MaxBatchTotalSizeBytes != 4<<20 {
		t.Errorf("MaxBatchTotalSizeBytes = %d, want %d", resp.CacheCapabilities.MaxBatchTotalSizeBytes, 4<<20)
	}
}
