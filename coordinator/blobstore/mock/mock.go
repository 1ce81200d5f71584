// Package mock provides an in-memory BlobStore for tests.
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
)

var _ blobstore.BlobStore = (*Store)(nil)

// Store is an in-memory BlobStore recording every mutation for assertions.
type Store struct {
	mu sync.Mutex
	// Objects maps "bucket/key" to content.
	Objects map[string]string
	// Buckets created through CreateBucket.
	Buckets []string
	// Deleted records every DeleteObject call, in order.
	Deleted []string
	// CompletedParts records the parts passed to the last CompleteMultipart
	// call, in the order received.
	CompletedParts []types.ETagWithPartNumber
	// FailDelete makes DeleteObject return an error, for testing
	// best-effort cleanup.
	FailDelete bool

	uploadSeq int
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{Objects: make(map[string]string)}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Put seeds an object directly.
func (m *Store) Put(bucket, key, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[objectKey(bucket, key)] = body
}

// Get reads an object directly.
func (m *Store) Get(bucket, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.Objects[objectKey(bucket, key)]
	return body, ok
}

func (m *Store) CreateBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Buckets = append(m.Buckets, bucket)
	return nil
}

func (m *Store) HeadObject(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Objects[objectKey(bucket, key)]; !ok {
		return blobstore.ErrObjectNotFound
	}
	return nil
}

func (m *Store) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://presigned.example/%s/%s", bucket, key), nil
}

func (m *Store) OpenMultipart(_ context.Context, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadSeq++
	return fmt.Sprintf("upload-%d", m.uploadSeq), nil
}

func (m *Store) PresignPart(_ context.Context, bucket, key, uploadID string, partNumber int32, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://presigned.example/%s/%s?uploadId=%s&partNumber=%d", bucket, key, uploadID, partNumber), nil
}

func (m *Store) CompleteMultipart(_ context.Context, bucket, key, _ string, parts []types.ETagWithPartNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompletedParts = append([]types.ETagWithPartNumber{}, parts...)
	m.Objects[objectKey(bucket, key)] = "multipart-object"
	return nil
}

func (m *Store) DeleteObject(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, objectKey(bucket, key))
	if m.FailDelete {
		return fmt.Errorf("delete failed for %s/%s", bucket, key)
	}
	delete(m.Objects, objectKey(bucket, key))
	return nil
}

func (m *Store) UploadFromString(_ context.Context, bucket, key, body string) error {
	m.Put(bucket, key, body)
	return nil
}

func (m *Store) DownloadToPath(_ context.Context, bucket, key, path string) error {
	body, ok := m.Get(bucket, key)
	if !ok {
		return blobstore.ErrObjectNotFound
	}
	return os.WriteFile(path, []byte(body), 0600)
}
