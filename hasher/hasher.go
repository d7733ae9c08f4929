package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"sync"

	"lardata/logger"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/mmap"
	"lukechampine.com/blake3"
)

const (
	hashBufferSmallSize      = 32 * 1024
	hashBufferLargeSize      = 1024 * 1024
	hashLargeBufferThreshold = 4 * 1024 * 1024
)

var (
	openMmapReader = mmap.Open

	// Files at least this large are hashed through a memory mapping.
	mmapThreshold int64 = 64 * 1024 * 1024
)

var hashBufferSmallPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferSmallSize)
		return &buf
	},
}

var hashBufferLargePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferLargeSize)
		return &buf
	},
}

var constructors = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"xxhash": func() hash.Hash { return xxhash.New() },
	"blake3": func() hash.Hash { return blake3.New(32, nil) },
}

// Supported reports whether algo names a known checksum algorithm.
func Supported(algo string) bool {
	_, ok := constructors[algo]
	return ok
}

// ComputeHashes returns hex digests of the file at path for each requested
// algorithm. Unknown algorithms are skipped with a warning; read failures
// return whatever could be computed, which may be nothing.
func ComputeHashes(path string, algorithms []string) map[string]string {
	hashes := make(map[string]string, len(algorithms))
	if len(algorithms) == 0 {
		return hashes
	}

	file, err := os.Open(path)
	if err != nil {
		logger.Warnf("Failed to open file for hashing %s: %v", path, err)
		return hashes
	}
	defer file.Close()

	type hasherEntry struct {
		name string
		h    hash.Hash
	}
	hashers := make([]hasherEntry, 0, len(algorithms))
	writers := make([]io.Writer, 0, len(algorithms))
	seen := make(map[string]struct{}, len(algorithms))
	for _, algo := range algorithms {
		if _, ok := seen[algo]; ok {
			continue
		}
		ctor, ok := constructors[algo]
		if !ok {
			logger.Warnf("Unsupported hash algorithm: %s", algo)
			continue
		}
		seen[algo] = struct{}{}
		h := ctor()
		hashers = append(hashers, hasherEntry{name: algo, h: h})
		writers = append(writers, h)
	}
	if len(hashers) == 0 {
		return hashes
	}

	var size int64 = -1
	if info, statErr := file.Stat(); statErr == nil {
		size = info.Size()
	}
	bufferPool := &hashBufferSmallPool
	if size >= hashLargeBufferThreshold {
		bufferPool = &hashBufferLargePool
	}
	bufferPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufferPtr)

	var src io.Reader = file
	if size > 0 && size >= mmapThreshold {
		if r, err := openMmapReader(path); err == nil {
			defer r.Close()
			src = io.NewSectionReader(r, 0, int64(r.Len()))
		} else {
			logger.Debugf("Falling back to streamed hashing of %s: %v", path, err)
		}
	}

	if _, err := io.CopyBuffer(io.MultiWriter(writers...), src, *bufferPtr); err != nil {
		logger.Warnf("Failed to compute hashes for %s: %v", path, err)
		return hashes
	}

	for i := range hashers {
		hashes[hashers[i].name] = hex.EncodeToString(hashers[i].h.Sum(nil))
	}
	return hashes
}
