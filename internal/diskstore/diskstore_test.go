package diskstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tuist/fabrik/internal/store"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "fabrik.db")
	}
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustDigest(t *testing.T, data []byte) store.Digest {
	t.Helper()
	return store.SumBytes(data)
}

func TestCASRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, Options{})
	ctx := context.Background()

	data := []byte("hello fabrik")
	d := mustDigest(t, data)

	if _, err := s.Put(ctx, d.Hash, d.Size, bytes.NewReader(data)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := s.Exists(ctx, d.Hash)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true, nil", ok, err)
	}

	rc, err := s.Get(ctx, d.Hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get returned %q, want %q", got, data)
	}
}

func TestPutHashMismatchWritesNothing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, Options{})
	ctx := context.Background()

	wrongHash := store.SumBytes([]byte("not this")).Hash
	_, err := s.Put(ctx, wrongHash, 5, bytes.NewReader([]byte("other")))
	if err != store.ErrHashMismatch {
		t.Fatalf("Put error = %v, want ErrHashMismatch", err)
	}

	if ok, _ := s.Exists(ctx, wrongHash); ok {
		t.Error("Exists = true after a rejected put; want false")
	}
}

func TestPutIdempotentOnIdenticalBytes(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, Options{})
	ctx := context.Background()

	data := []byte("idempotent payload")
	d := mustDigest(t, data)

	for i := 0; i < 2; i++ {
		if _, err := s.Put(ctx, d.Hash, d.Size, bytes.NewReader(data)); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM blob_meta WHERE hash = ?`, d.Hash.String()).Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 1 {
		t.Errorf("blob_meta rows for hash = %d, want 1", count)
	}
}

func TestConcurrentPutsOfSameHashStoreOneCopy(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, Options{})
	ctx := context.Background()

	data := []byte("concurrent payload data that is long enough to matter")
	d := mustDigest(t, data)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Put(ctx, d.Hash, d.Size, bytes.NewReader(data))
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Put #%d: %v", i, err)
		}
	}

	rc, err := s.Get(ctx, d.Hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Errorf("Get returned %q, want %q", got, data)
	}
}

func TestKVWriteAfterWrite(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, Options{})
	ctx := context.Background()

	const key = "action-cache/abc123"
	for i := 0; i < 5; i++ {
		v := []byte(fmt.Sprintf("version-%d", i))
		if err := s.KVPut(ctx, key, v); err != nil {
			t.Fatalf("KVPut #%d: %v", i, err)
		}
	}

	got, err := s.KVGet(ctx, key)
	if err != nil {
		t.Fatalf("KVGet: %v", err)
	}
	if string(got) != "version-4" {
		t.Errorf("KVGet = %q, want %q", got, "version-4")
	}
}

func TestKVDeleteAndMissingGet(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, Options{})
	ctx := context.Background()

	if _, err := s.KVGet(ctx, "nope"); err != store.ErrNotFound {
		t.Fatalf("KVGet on missing key = %v, want ErrNotFound", err)
	}

	if err := s.KVPut(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := s.KVDelete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.KVExists(ctx, "k"); ok {
		t.Error("KVExists = true after delete")
	}
}

func TestKVListPrefix(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, Options{})
	ctx := context.Background()

	for _, k := range []string{"recipe:a", "recipe:b", "other:c"} {
		if err := s.KVPut(ctx, k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	it, err := s.KVList(ctx, "recipe:")
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	var got []string
	for it.Next(ctx) {
		got = append(got, it.Key())
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("KVList(recipe:) = %v, want 2 keys", got)
	}
}

// TestEvictionUnderLFU reproduces the spec's literal scenario: ten 1 MiB
// blobs in a 10 MiB-capped store, blob #1 read 100 times and the rest once;
// an 11th blob forces eviction; blob #2 (lowest access count, earliest
// last-access among the tied-at-one blobs) is evicted, blob #1 survives.
func TestEvictionUnderLFU(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, Options{
		MaxSize:        10 << 20,
		EvictionPolicy: PolicyLFU,
		SweepInterval:  time.Hour, // we call maybeEvict directly
	})
	ctx := context.Background()

	const blobSize = 1 << 20
	hashes := make([]store.Hash, 10)
	for i := 0; i < 10; i++ {
		data := bytes.Repeat([]byte{byte(i)}, blobSize)
		d := mustDigest(t, data)
		hashes[i] = d.Hash
		if _, err := s.Put(ctx, d.Hash, d.Size, bytes.NewReader(data)); err != nil {
			t.Fatalf("Put blob %d: %v", i, err)
		}
	}

	// Blob #0 (the spec's "blob #1") gets 100 reads; every other blob gets 1.
	for i := 0; i < 100; i++ {
		if _, err := drain(s.Get(ctx, hashes[0])); err != nil {
			t.Fatalf("warm-up read: %v", err)
		}
	}
	for i := 1; i < 10; i++ {
		if _, err := drain(s.Get(ctx, hashes[i])); err != nil {
			t.Fatalf("read blob %d: %v", i, err)
		}
	}

	// 11th blob pushes total usage to 11 MiB, over the 10 MiB cap.
	data := bytes.Repeat([]byte{0xFF}, blobSize)
	d := mustDigest(t, data)
	if _, err := s.Put(ctx, d.Hash, d.Size, bytes.NewReader(data)); err != nil {
		t.Fatalf("Put 11th blob: %v", err)
	}

	if err := s.maybeEvict(); err != nil {
		t.Fatalf("maybeEvict: %v", err)
	}

	if ok, _ := s.Exists(ctx, hashes[0]); !ok {
		t.Error("blob #1 (most accessed) was evicted; it should survive")
	}
	if ok, _ := s.Exists(ctx, hashes[1]); ok {
		t.Error("blob #2 (lowest count, earliest access) should have been evicted")
	}
}

func drain(rc io.ReadCloser, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
