// Package layerrpc implements the inter-layer RPC protocol (component C5):
// the wire contract a Layer 1 instance uses to consult a Layer 2 instance
// (or, symmetrically, any two fabrik instances configured as upstream/
// downstream of one another). Transport is real google.golang.org/grpc
// riding the internal/grpccodec JSON codec, so every message below is a
// plain Go struct rather than a generated protobuf type.
package layerrpc

// ExistsRequest/ExistsResponse back the unary Exists call.
type ExistsRequest struct {
	Hash string `json:"hash"`
}

type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// GetRequest starts the server-streaming Get call.
type GetRequest struct {
	Hash string `json:"hash"`
}

// GetChunk is one frame of a Get stream. Eof is set on the final, empty
// frame so the client can distinguish a clean end-of-stream from
// cancellation, per the first-frame/end-of-stream rule in the protocol
// table.
type GetChunk struct {
	Data []byte `json:"data,omitempty"`
	Eof  bool   `json:"eof,omitempty"`
}

// PutChunk is one frame of the client-streaming Put call. The first frame
// sent by the client must carry Hash and Size and may omit Data; every
// subsequent frame carries only Data.
type PutChunk struct {
	Hash string `json:"hash,omitempty"`
	Size int64  `json:"size,omitempty"`
	Data []byte `json:"data,omitempty"`
}

type PutResponse struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

type DeleteRequest struct {
	Hash string `json:"hash"`
}

type DeleteResponse struct{}

// InfoRequest/InfoResponse back the unary Info call completing store.CAS.
type InfoRequest struct {
	Hash string `json:"hash"`
}

type InfoResponse struct {
	Size         int64 `json:"size"`
	CreatedAtNS  int64 `json:"created_at_ns"`
	AccessedAtNS int64 `json:"accessed_at_ns"`
	AccessCount  int64 `json:"access_count"`
}

type GetStatsRequest struct{}

// StatsResponse mirrors store.Stats; kept as an independent type so the
// wire contract doesn't change shape if the internal Stats struct grows
// fields with no RPC relevance.
type StatsResponse struct {
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
	ObjectCount    int64 `json:"object_count"`
	TotalBytes     int64 `json:"total_bytes"`
	Evictions      int64 `json:"evictions"`
	UploadBytes    int64 `json:"upload_bytes"`
	DownloadBytes  int64 `json:"download_bytes"`
	UpstreamHits   int64 `json:"upstream_hits"`
	UpstreamMisses int64 `json:"upstream_misses"`
	P2PHits        int64 `json:"p2p_hits"`
	P2PMisses      int64 `json:"p2p_misses"`
}

// KV request/response types complete the Upstream interface (store.CAS +
// store.KV) so a layerrpc.Client can serve as any composer upstream entry,
// not just a CAS-only one — a Layer 2 instance replicates action-cache
// entries the same way it replicates blobs.
type KVGetRequest struct {
	Key string `json:"key"`
}

type KVGetResponse struct {
	Value []byte `json:"value"`
}

type KVPutRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type KVPutResponse struct{}

type KVExistsRequest struct {
	Key string `json:"key"`
}

type KVExistsResponse struct {
	Exists bool `json:"exists"`
}

type KVDeleteRequest struct {
	Key string `json:"key"`
}

type KVDeleteResponse struct{}

type KVListRequest struct {
	Prefix string `json:"prefix"`
}

// KVListChunk streams one key per frame, terminated by an Eof frame,
// mirroring GetChunk's shape so KVList stays lazy over large namespaces
// per store.KeyIterator's contract.
type KVListChunk struct {
	Key string `json:"key,omitempty"`
	Eof bool   `json:"eof,omitempty"`
}
