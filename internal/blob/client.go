package blob

import (
	"context"
	"io"
	"time"
)

// IBlobClient is the remote object store the sync engine talks to.
type IBlobClient interface {
	// Bucket returns the bucket name, for logs.
	Bucket() string
	ListObjects(ctx context.Context, params *ListObjectsParams) (*ListObjectsPage, error)
	GetObject(ctx context.Context, key string) (*GetObjectResponse, error)
	PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error)
	DeleteObject(ctx context.Context, key string) (bool, error)
}

// ===================================================================================================

type ListObjectsParams struct {
	Prefix            string
	MaxKeys           int32
	ContinuationToken string
}

type ListObjectsPage struct {
	Objects               []*BlobInfo
	IsTruncated           bool
	NextContinuationToken string
}

type BlobInfo struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

// ===================================================================================================

type GetObjectResponse struct {
	Body         io.ReadCloser
	ETag         string
	Size         int64
	LastModified time.Time
}

// ===================================================================================================

type PutObjectParams struct {
	Key  string
	Size int64
	Body io.Reader
	// ContentMD5 is the base64 encoded MD5 of Body. The store rejects the
	// upload if the received bytes do not match.
	ContentMD5 string
}

type PutObjectResponse struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}
