// Package blobstore abstracts the object bucket holding ceremony artifacts:
// proving keys, powers-of-tau files and verification transcripts. Uploads by
// contributors happen through presigned multipart URLs; the coordinator only
// moves small objects (transcripts) itself.
package blobstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
)

// ErrObjectNotFound distinguishes a missing object from permission or
// transport failures.
var ErrObjectNotFound = errors.New("object not found in bucket")

// BlobStore is the bucket contract consumed by the coordinator.
type BlobStore interface {
	// CreateBucket provisions the ceremony bucket and installs its access
	// policy: public read on non-contribution artifacts, private on
	// contribution uploads, CORS allowing GET and PUT with ETag exposed.
	CreateBucket(ctx context.Context, bucket string) error
	// HeadObject reports object existence; a missing object yields
	// ErrObjectNotFound.
	HeadObject(ctx context.Context, bucket, key string) error
	// PresignGet returns a presigned GET URL valid for the given TTL.
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	// OpenMultipart starts a multipart upload and returns its upload id.
	OpenMultipart(ctx context.Context, bucket, key string) (string, error)
	// PresignPart returns a presigned PUT URL for one part of a multipart
	// upload.
	PresignPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, ttl time.Duration) (string, error)
	// CompleteMultipart seals a multipart upload. It is idempotent with
	// respect to the same (uploadID, parts) tuple.
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []types.ETagWithPartNumber) error
	// DeleteObject removes an object; deleting a missing object is not an
	// error.
	DeleteObject(ctx context.Context, bucket, key string) error
	// UploadFromString writes a small text object from the coordinator.
	UploadFromString(ctx context.Context, bucket, key, body string) error
	// DownloadToPath fetches an object to a local file path.
	DownloadToPath(ctx context.Context, bucket, key, path string) error
}
