// Package blobstore is the physical half of component C2: placing,
// locating, and removing the on-disk blob files named by hex digest
// under the data directory (spec §6's on-disk layout). Refcount
// bookkeeping itself lives in the catalog package's blobs table, since
// it must move inside the same transaction as the metadata node it
// backs (spec §4.1).
package blobstore

import (
	"os"
	"path/filepath"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
	"github.com/bit-hyperfs/hyperfs/internal/digestio"
)

// Dir locates blob files by content digest under a single data
// directory, per spec §6: "<data-dir>/<hex(digest)>".
type Dir struct {
	Root string
}

func New(root string) *Dir {
	return &Dir{Root: root}
}

// Path returns the absolute path a blob with the given hex digest
// would live at.
func (d *Dir) Path(hexDigest string) string {
	return filepath.Join(d.Root, hexDigest)
}

// Exists reports whether the blob file for hexDigest is present.
func (d *Dir) Exists(hexDigest string) bool {
	_, err := os.Stat(d.Path(hexDigest))
	return err == nil
}

// Place atomically moves a finished temp file into the blob
// directory under its digest. Callers must only call this when the
// catalog transaction that just inserted/incremented the blob record
// produced refcount 1 (i.e. this is genuinely new content) — spec
// §4.3 step 3b/6b "needs-placement".
func (d *Dir) Place(tempPath string, digest digestio.Digest) error {
	target := d.Path(digest.Hex())
	if _, err := os.Stat(target); err == nil {
		// Spec §5: concurrent uploads of identical content can race
		// in post-commit placement; the adapter treats an
		// already-present target as benign.
		return os.Remove(tempPath)
	}
	return digestio.AtomicRename(tempPath, target)
}

// Discard removes a temp file whose content turned out not to need
// placement (a duplicate upload, or a catalog commit that failed).
func (d *Dir) Discard(tempPath string) error {
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.Transport, err, "discard temp file")
	}
	return nil
}

// Remove deletes the on-disk blob file for hexDigest. Best-effort per
// spec §4.1: the catalog's record delete is authoritative, this is
// just reclaiming space.
func (d *Dir) Remove(hexDigest string) error {
	if err := os.Remove(d.Path(hexDigest)); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.Transport, err, "remove blob file")
	}
	return nil
}

// EnsureDirs creates the data directory if absent.
func (d *Dir) EnsureDirs() error {
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return apperr.Wrap(apperr.Transport, err, "create data directory")
	}
	return nil
}
