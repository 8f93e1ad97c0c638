package sync

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/workspace"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type memObject struct {
	data    []byte
	etag    string
	modTime time.Time
}

// memBlob is an in-memory IBlobClient with listing pagination.
type memBlob struct {
	mu      sync.Mutex
	objects map[string]*memObject
	now     time.Time

	listErr   error
	listCalls int
	putErr    map[string]error
	getErr    map[string]error
	deleted   []string
}

func newMemBlob() *memBlob {
	return &memBlob{
		objects: make(map[string]*memObject),
		now:     baseTime,
		putErr:  make(map[string]error),
		getErr:  make(map[string]error),
	}
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (m *memBlob) set(key, content string, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = &memObject{data: []byte(content), etag: md5Hex([]byte(content)), modTime: modTime}
}

func (m *memBlob) content(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return "", false
	}
	return string(obj.data), true
}

func (m *memBlob) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *memBlob) Bucket() string { return "test-bucket" }

func (m *memBlob) ListObjects(ctx context.Context, params *blob.ListObjectsParams) (*blob.ListObjectsPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if len(k) >= len(params.Prefix) && k[:len(params.Prefix)] == params.Prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if params.ContinuationToken != "" {
		n, err := strconv.Atoi(params.ContinuationToken)
		if err != nil {
			return nil, err
		}
		start = n
	}
	end := min(start+int(params.MaxKeys), len(keys))

	page := &blob.ListObjectsPage{}
	for _, k := range keys[start:end] {
		obj := m.objects[k]
		page.Objects = append(page.Objects, &blob.BlobInfo{
			Key:          k,
			ETag:         obj.etag,
			Size:         int64(len(obj.data)),
			LastModified: obj.modTime,
		})
	}
	if end < len(keys) {
		page.IsTruncated = true
		page.NextContinuationToken = strconv.Itoa(end)
	}
	return page, nil
}

func (m *memBlob) GetObject(ctx context.Context, key string) (*blob.GetObjectResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.getErr[key]; err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return &blob.GetObjectResponse{
		Body:         io.NopCloser(bytes.NewReader(obj.data)),
		ETag:         obj.etag,
		Size:         int64(len(obj.data)),
		LastModified: obj.modTime,
	}, nil
}

func (m *memBlob) PutObject(ctx context.Context, params *blob.PutObjectParams) (*blob.PutObjectResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.putErr[params.Key]; err != nil {
		return nil, err
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != params.Size {
		return nil, errors.New("size mismatch")
	}
	etag := md5Hex(data)
	if ParseETag(etag).Base64() != params.ContentMD5 {
		return nil, errors.New("BadDigest")
	}
	m.now = m.now.Add(time.Hour)
	m.objects[params.Key] = &memObject{data: data, etag: etag, modTime: m.now}
	return &blob.PutObjectResponse{Key: params.Key, ETag: etag, Size: params.Size, LastModified: m.now}, nil
}

func (m *memBlob) DeleteObject(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return true, nil
}

var _ blob.IBlobClient = (*memBlob)(nil)

// ===================================================================================================

func newTestVault(t *testing.T) *workspace.Vault {
	t.Helper()
	v, err := workspace.NewVault(filepath.Join(t.TempDir(), "Notes"))
	require.NoError(t, err)
	require.NoError(t, v.Setup())
	t.Cleanup(func() { _ = v.Unlock() })
	return v
}

func writeLocal(t *testing.T, v *workspace.Vault, logical, content string, modTime time.Time) {
	t.Helper()
	abs := filepath.Join(v.Root, filepath.FromSlash(logical))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(abs, modTime, modTime))
}

func readLocal(t *testing.T, v *workspace.Vault, logical string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(v.Root, filepath.FromSlash(logical)))
	require.NoError(t, err)
	return string(data)
}

func hashOf(content string) ContentHash {
	return NewContentHash(md5.Sum([]byte(content)))
}

func localRec(path, content string, modTime time.Time) *LocalRecord {
	return &LocalRecord{
		FileMeta: FileMeta{Path: path, Hash: hashOf(content), LastModified: modTime, Size: int64(len(content))},
		AbsPath:  "/vault/" + path,
	}
}

func remoteRec(path, content string, modTime time.Time) *RemoteRecord {
	return &RemoteRecord{
		FileMeta: FileMeta{Path: path, Hash: hashOf(content), LastModified: modTime, Size: int64(len(content))},
		Key:      "Notes/" + path,
	}
}

func planPaths(plan *SyncPlan) (up, down, del []string) {
	for _, r := range plan.ToUpload {
		up = append(up, r.Path)
	}
	for _, r := range plan.ToDownload {
		down = append(down, r.Path)
	}
	for _, r := range plan.ToDelete {
		del = append(del, string(r.Origin())+":"+r.Meta().Path)
	}
	return up, down, del
}
