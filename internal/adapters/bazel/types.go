// Package bazel implements a remote-cache front end speaking the shape of
// Bazel's Remote Execution API: CAS batch operations, a tree walk, an
// ActionCache, and a minimal Capabilities service, all mapped onto the
// shared blob and KV surfaces (component C1).
package bazel

// Digest identifies a blob the way REAPI does: content hash plus size.
type Digest struct {
	Hash      string `json:"hash"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Status is a small rpc.Status analog carried in batch responses so a
// partial batch failure doesn't have to fail the whole RPC.
type Status struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}

func ok() Status { return Status{Code: 0} }

// FindMissingBlobsRequest/Response let a client ask which of a candidate
// set is already cached before uploading.
type FindMissingBlobsRequest struct {
	BlobDigests []Digest `json:"blobDigests"`
}

type FindMissingBlobsResponse struct {
	MissingBlobDigests []Digest `json:"missingBlobDigests"`
}

// BatchUpdateBlobsRequest uploads multiple blobs in one call.
type BatchUpdateBlobsRequest struct {
	Requests []BlobUpdateRequest `json:"requests"`
}

type BlobUpdateRequest struct {
	Digest Digest `json:"digest"`
	Data   []byte `json:"data"`
}

type BatchUpdateBlobsResponse struct {
	Responses []BlobUpdateResponse `json:"responses"`
}

type BlobUpdateResponse struct {
	Digest Digest `json:"digest"`
	Status Status `json:"status"`
}

// BatchReadBlobsRequest downloads multiple blobs in one call.
type BatchReadBlobsRequest struct {
	Digests []Digest `json:"digests"`
}

type BatchReadBlobsResponse struct {
	Responses []BlobReadResponse `json:"responses"`
}

type BlobReadResponse struct {
	Digest Digest `json:"digest"`
	Data   []byte `json:"data,omitempty"`
	Status Status `json:"status"`
}

// Directory is the minimal merkle-tree node GetTree walks: a list of file
// leaves and child directory digests.
type Directory struct {
	Files       []FileNode `json:"files,omitempty"`
	Directories []Digest   `json:"directories,omitempty"`
}

type FileNode struct {
	Name   string `json:"name"`
	Digest Digest `json:"digest"`
}

// GetTreeRequest walks the directory tree rooted at RootDigest.
type GetTreeRequest struct {
	RootDigest Digest `json:"rootDigest"`
	PageToken  string `json:"pageToken,omitempty"`
}

type GetTreeResponse struct {
	Directories   []Directory `json:"directories"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}

// ActionResult is the cached outcome of an action, keyed by ActionCache
// under the action's digest.
type ActionResult struct {
	OutputFiles []FileNode `json:"outputFiles,omitempty"`
	ExitCode    int32      `json:"exitCode"`
}

type GetActionResultRequest struct {
	ActionDigest Digest `json:"actionDigest"`
}

type UpdateActionResultRequest struct {
	ActionDigest Digest       `json:"actionDigest"`
	ActionResult ActionResult `json:"actionResult"`
}

type GetCapabilitiesRequest struct{}

type ServerCapabilities struct {
	CacheCapabilities CacheCapabilities `json:"cacheCapabilities"`
}

type CacheCapabilities struct {
	MaxBatchTotalSizeBytes int64 `json:"maxBatchTotalSizeBytes"`
}
