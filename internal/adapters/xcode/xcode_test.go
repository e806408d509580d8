package xcode

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	_ "github.com/tuist/fabrik/internal/grpccodec"

	"github.com/tuist/fabrik/internal/diskstore"
	"github.com/tuist/fabrik/internal/store"
)

func newTestHarness(t *testing.T) *grpc.ClientConn {
	t.Helper()

	backend, err := diskstore.Open(diskstore.Options{Path: t.TempDir() + "/fabrik.db"})
	if err != nil {
		t.Fatalf("diskstore.Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	srv := grpc.NewServer()
	RegisterServices(srv, NewServer(backend))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPutGetExistsRoundTrip(t *testing.T) {
	conn := newTestHarness(t)
	ctx := context.Background()

	data := []byte("xcode build artifact")
	d := store.SumBytes(data)

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Put", ClientStreams: true}, "/"+casServiceName+"/Put")
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	if err := stream.SendMsg(&PutChunk{Hash: d.Hash.String(), Data: data}); err != nil {
		t.Fatalf("SendMsg first frame: %v", err)
	}
	if err := stream.SendMsg(&PutChunk{Eof: true}); err != nil {
		t.Fatalf("SendMsg eof frame: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
	putResp := new(PutResponse)
	if err := stream.RecvMsg(putResp); err != nil {
		t.Fatalf("RecvMsg PutResponse: %v", err)
	}
	if putResp.Hash != d.Hash.String() || putResp.Size != d.Size {
		t.Fatalf("PutResponse = %+v, want hash=%s size=%d", putResp, d.Hash, d.Size)
	}

	existsResp := new(ExistsResponse)
	if err := conn.Invoke(ctx, "/"+casServiceName+"/Exists", &ExistsRequest{Hash: d.Hash.String()}, existsResp); err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !existsResp.Exists {
		t.Fatal("Exists = false after Put")
	}

	getStream, err := conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Get", ServerStreams: true}, "/"+casServiceName+"/Get")
	if err != nil {
		t.Fatalf("NewStream Get: %v", err)
	}
	if err := getStream.SendMsg(&GetRequest{Hash: d.Hash.String()}); err != nil {
		t.Fatalf("SendMsg GetRequest: %v", err)
	}
	if err := getStream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
	var got []byte
	for {
		chunk := new(GetChunk)
		if err := getStream.RecvMsg(chunk); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("RecvMsg GetChunk: %v", err)
		}
		if chunk.Eof {
			break
		}
		got = append(got, chunk.Data...)
	}
	if string(got) != string(data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}
}

func TestPutWithoutFirstFrameHashRejected(t *testing.T) {
	conn := newTestHarness(t)
	ctx := context.Background()

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Put", ClientStreams: true}, "/"+casServiceName+"/Put")
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	if err := stream.SendMsg(&PutChunk{Data: []byte("no hash declared")}); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	stream.CloseSend()

	resp := new(PutResponse)
	if err := stream.RecvMsg(resp); err == nil {
		t.Fatal("RecvMsg succeeded, want rejection for missing first-frame hash")
	}
}

func TestKVRoundTrip(t *testing.T) {
	conn := newTestHarness(t)
	ctx := context.Background()

	if _, err := call[KVPutResponse](ctx, conn, "/"+kvServiceName+"/KVPut", &KVPutRequest{Key: "scheme:Debug", Value: []byte("manifest")}); err != nil {
		t.Fatalf("KVPut: %v", err)
	}
	got, err := call[KVGetResponse](ctx, conn, "/"+kvServiceName+"/KVGet", &KVGetRequest{Key: "scheme:Debug"})
	if err != nil {
		t.Fatalf("KVGet: %v", err)
	}
	if string(got.Value) != "manifest" {
		t.Fatalf("KVGet.Value = %q, want manifest", got.Value)
	}
}

func call[T any](ctx context.Context, conn *grpc.ClientConn, method string, req interface{}) (*T, error) {
	resp := new(T)
	if err := conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func TestListenUnixSocketPublishesPath(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "fabrik-xcode.sock")

	lis, published, err := Listen("", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lis.Close()
	if published != sock {
		t.Fatalf("published = %q, want %q", published, sock)
	}
	if _, err := os.Stat(sock); err != nil {
		t.Fatalf("socket file not created: %v", err)
	}
}

func TestListenTCPPublishesURL(t *testing.T) {
	lis, published, err := Listen("127.0.0.1:0", "")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lis.Close()
	if published == "" || published[:6] != "tcp://" {
		t.Fatalf("published = %q, want tcp:// prefix", published)
	}
}
