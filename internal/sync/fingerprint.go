package sync

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/bucketsync/internal/workspace"
)

const (
	// DefaultMaxFingerprintSize is the largest file whose content is hashed.
	DefaultMaxFingerprintSize = 500 << 20
	defaultFingerprintCache   = 16384
)

// ContentHash is an optional MD5 digest. The zero value is "unknown".
type ContentHash struct {
	sum   [md5.Size]byte
	known bool
}

func NewContentHash(sum [md5.Size]byte) ContentHash {
	return ContentHash{sum: sum, known: true}
}

// ParseETag reads an S3 ETag as a content hash. Only plain 32 hex digit tags
// are MD5 digests; multipart or encrypted object tags are unknown.
func ParseETag(etag string) ContentHash {
	etag = strings.Trim(etag, "\"")
	if len(etag) != hex.EncodedLen(md5.Size) {
		return ContentHash{}
	}

	var sum [md5.Size]byte
	if _, err := hex.Decode(sum[:], []byte(etag)); err != nil {
		return ContentHash{}
	}
	return NewContentHash(sum)
}

func (h ContentHash) Known() bool {
	return h.known
}

func (h ContentHash) Hex() string {
	if !h.known {
		return ""
	}
	return hex.EncodeToString(h.sum[:])
}

// Base64 is the Content-MD5 header form of the digest.
func (h ContentHash) Base64() string {
	if !h.known {
		return ""
	}
	return base64.StdEncoding.EncodeToString(h.sum[:])
}

func (h ContentHash) String() string {
	if !h.known {
		return "unknown"
	}
	return h.Hex()
}

// Differs is true only when both hashes are known and not equal.
// An unknown hash never compares as equal or different.
func (h ContentHash) Differs(other ContentHash) bool {
	return h.known && other.known && h.sum != other.sum
}

// ===================================================================================================

type fingerprintKey struct {
	path    string
	size    int64
	modTime int64
}

// Fingerprinter hashes local content up to a size ceiling. Results for files
// whose path, size and mtime have not changed are served from an LRU cache.
type Fingerprinter struct {
	maxSize int64
	cache   *lru.Cache[fingerprintKey, ContentHash]
}

func NewFingerprinter(maxSize int64) *Fingerprinter {
	if maxSize <= 0 {
		maxSize = DefaultMaxFingerprintSize
	}
	cache, _ := lru.New[fingerprintKey, ContentHash](defaultFingerprintCache)
	return &Fingerprinter{
		maxSize: maxSize,
		cache:   cache,
	}
}

// Fingerprint digests r. Oversized content is not read and read errors yield
// an unknown hash; it never fails.
func (f *Fingerprinter) Fingerprint(r io.Reader, size int64) ContentHash {
	if size > f.maxSize {
		return ContentHash{}
	}

	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return ContentHash{}
	}

	var sum [md5.Size]byte
	copy(sum[:], h.Sum(nil))
	return NewContentHash(sum)
}

// FingerprintFile opens file through tree and digests it.
func (f *Fingerprinter) FingerprintFile(tree LocalTree, file *workspace.FileInfo) ContentHash {
	if file.Size > f.maxSize {
		return ContentHash{}
	}

	key := fingerprintKey{path: file.Path, size: file.Size, modTime: file.ModTime.UnixNano()}
	if hash, ok := f.cache.Get(key); ok {
		return hash
	}

	r, err := tree.Open(file.Path)
	if err != nil {
		slog.Debug("fingerprint", "path", file.Path, "error", err)
		return ContentHash{}
	}
	defer r.Close()

	hash := f.Fingerprint(r, file.Size)
	if hash.Known() {
		f.cache.Add(key, hash)
	}
	return hash
}
