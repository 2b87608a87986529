// Package crypto provides the content digests used to address blobs.
package crypto

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported content digest.
type Algorithm string

const (
	// SHA256 is the default digest.
	SHA256 Algorithm = "sha256"

	// SHA1 matches ids produced by earlier deployments.
	SHA1 Algorithm = "sha1"

	// BLAKE2b is BLAKE2b-256.
	BLAKE2b Algorithm = "blake2b"

	// BLAKE3 is BLAKE3 with a 256-bit output.
	BLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm returns the Algorithm named by s (case-insensitive).
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case SHA256, SHA1, BLAKE2b, BLAKE3:
		return a, nil
	case "":
		return SHA256, nil
	default:
		return "", fmt.Errorf("unsupported digest algorithm %q", s)
	}
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New()
	case BLAKE2b:
		// Only fails for keys longer than 64 bytes.
		h, _ := blake2b.New256(nil)
		return h
	case BLAKE3:
		return blake3.New()
	default:
		return sha256.New()
	}
}

// HexLen returns the length of a hex encoded digest.
func (a Algorithm) HexLen() int {
	if a == SHA1 {
		return 2 * sha1.Size
	}
	return 2 * sha256.Size
}

// Valid reports whether id is a well-formed lowercase hex digest for a.
func (a Algorithm) Valid(id string) bool {
	if len(id) != a.HexLen() {
		return false
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// HashReader wraps an io.Reader and digests everything read through it.
type HashReader struct {
	reader io.Reader
	hash   hash.Hash
	size   int64
}

// NewHashReader creates a HashReader using the given algorithm.
func NewHashReader(r io.Reader, algo Algorithm) *HashReader {
	return &HashReader{
		reader: r,
		hash:   algo.New(),
	}
}

// Read implements io.Reader and updates the digest.
func (h *HashReader) Read(p []byte) (n int, err error) {
	n, err = h.reader.Read(p)
	if n > 0 {
		h.hash.Write(p[:n])
		h.size += int64(n)
	}
	return n, err
}

// Sum returns the hex encoded digest of everything read so far.
func (h *HashReader) Sum() string {
	return hex.EncodeToString(h.hash.Sum(nil))
}

// Size returns the total number of bytes read.
func (h *HashReader) Size() int64 {
	return h.size
}

// ComputeHash digests a byte slice.
func ComputeHash(algo Algorithm, data []byte) string {
	h := algo.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
