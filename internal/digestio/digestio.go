// Package digestio holds the primitives the rest of the service is
// built on: the streaming SHA-256 hasher, the content digest type, and
// the temp-file arena uploads land in before they are committed. These
// never touch the catalog or the blob directory themselves.
package digestio

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
)

// Size is the fixed length of a content digest in bytes.
const Size = sha256.Size

// Digest is a 256-bit content digest. The zero value is not a valid
// digest of anything; IsZero reports it.
type Digest [Size]byte

// Hex renders the digest as 64 lowercase hex characters, the form it
// takes once persisted in the catalog or used as a blob filename.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string { return d.Hex() }

// IsZero reports whether d is the unset sentinel.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Parse decodes a 64-character hex digest. Anything else fails with a
// BadRequest error (the bad-digest precondition of spec §4.1).
func Parse(s string) (Digest, error) {
	if len(s) != Size*2 {
		return Digest{}, apperr.New(apperr.BadRequest, fmt.Sprintf("bad digest length: %d", len(s)))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, apperr.Wrap(apperr.BadRequest, err, "bad digest encoding")
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// Hasher wraps the SHA-256 computation fed in lockstep with the bytes
// written to the temp file, per spec §4.4: hashing and writing must
// advance over the same view of each chunk.
type Hasher struct {
	h hash.Hash
}

func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (hs *Hasher) Write(p []byte) (int, error) {
	return hs.h.Write(p)
}

func (hs *Hasher) Sum() Digest {
	var d Digest
	copy(d[:], hs.h.Sum(nil))
	return d
}

// TempArena creates uniquely-named temp files under a single
// directory, cleaned up on Finish or Abort by the upload session that
// owns them.
type TempArena struct {
	Dir string
}

func NewTempArena(dir string) *TempArena {
	return &TempArena{Dir: dir}
}

// Create opens a new temp file named upload_<uuid>.tmp, per the
// on-disk layout in spec §6.
func (a *TempArena) Create() (*os.File, error) {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.Transport, err, "create temp arena")
	}
	name := filepath.Join(a.Dir, "upload_"+uuid.NewString()+".tmp")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, err, "create temp file")
	}
	return f, nil
}

// AtomicRename moves src to dst. On most filesystems this is the
// atomic rename the post-commit blob placement step relies on (spec
// §4.3): the blob either appears whole at dst or not at all.
func AtomicRename(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperr.Wrap(apperr.Transport, err, "create blob directory")
	}
	if err := os.Rename(src, dst); err != nil {
		return apperr.Wrap(apperr.Transport, err, "rename into place")
	}
	return nil
}
