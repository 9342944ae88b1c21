package catalog

import (
	"database/sql"
	"time"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
	"github.com/bit-hyperfs/hyperfs/internal/digestio"
)

// Blob is a blob record (component C2, spec §3): the refcount
// lifecycle that governs whether a content-addressed file on disk is
// retained or destroyed.
type Blob struct {
	Digest    string
	Size      int64
	Refcount  int64
	CreatedAt time.Time
}

// LookupBlob returns the blob record for digest, or NotFound.
func (t *Tx) LookupBlob(digest string) (Blob, error) {
	row := t.tx.QueryRow("SELECT digest, size, refcount, created_at FROM blobs WHERE digest = ?", digest)
	var b Blob
	var createdAt int64
	if err := row.Scan(&b.Digest, &b.Size, &b.Refcount, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return Blob{}, apperr.New(apperr.NotFound, "blob not found")
		}
		return Blob{}, apperr.Wrap(apperr.Transport, err, "lookup blob")
	}
	b.CreatedAt = time.UnixMilli(createdAt).UTC()
	return b, nil
}

// InsertOrIncrement implements spec §4.1's InsertOrIncrement: insert a
// fresh record at refcount 1 for novel content, or increment the
// refcount of existing content with a matching size. A size mismatch
// on an existing digest is a DigestCollision — the specification's
// invariant (ii) violated.
func (t *Tx) InsertOrIncrement(digest digestio.Digest, size int64) (int64, error) {
	hexDigest := digest.Hex()
	existing, err := t.LookupBlob(hexDigest)
	if apperr.Is(err, apperr.NotFound) {
		now := time.Now().UTC()
		if _, err := t.tx.Exec(
			"INSERT INTO blobs (digest, size, refcount, created_at) VALUES (?, ?, 1, ?)",
			hexDigest, size, now.UnixMilli(),
		); err != nil {
			if isUniqueViolation(err) {
				// Lost a race with a concurrent insert of the same
				// digest; fall through and treat it as the increment
				// path instead of failing the whole operation.
				return t.incrementBlob(hexDigest, size)
			}
			return 0, apperr.Wrap(apperr.Transport, err, "insert blob")
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if existing.Size != size {
		return 0, apperr.WithReason(apperr.DigestCollision, hexDigest,
			"digest collision: same digest, different size")
	}
	return t.incrementBlob(hexDigest, size)
}

// ListAllDigests returns every digest currently tracked in the blobs
// table, used by the startup reconciliation sweep.
func (t *Tx) ListAllDigests() ([]string, error) {
	rows, err := t.tx.Query("SELECT digest FROM blobs")
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, err, "list blob digests")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, apperr.Wrap(apperr.Transport, err, "scan blob digest")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Transport, err, "list blob digests")
	}
	return out, nil
}

func (t *Tx) incrementBlob(hexDigest string, size int64) (int64, error) {
	if _, err := t.tx.Exec("UPDATE blobs SET refcount = refcount + 1 WHERE digest = ?", hexDigest); err != nil {
		return 0, apperr.Wrap(apperr.Transport, err, "increment blob refcount")
	}
	b, err := t.LookupBlob(hexDigest)
	if err != nil {
		return 0, err
	}
	if b.Size != size {
		return 0, apperr.WithReason(apperr.DigestCollision, hexDigest,
			"digest collision: same digest, different size")
	}
	return b.Refcount, nil
}

// Decrement implements spec §4.1's Decrement: decrements refcount,
// deleting the record when it reaches zero. The caller is responsible
// for removing the backing file when the returned refcount is 0 (the
// record delete is authoritative; the file removal is best-effort).
func (t *Tx) Decrement(digestHex string) (int64, error) {
	b, err := t.LookupBlob(digestHex)
	if err != nil {
		return 0, err
	}
	if b.Refcount <= 0 {
		return 0, apperr.New(apperr.InvariantViolation, "blob refcount already non-positive")
	}
	newCount := b.Refcount - 1
	if newCount == 0 {
		if _, err := t.tx.Exec("DELETE FROM blobs WHERE digest = ?", digestHex); err != nil {
			return 0, apperr.Wrap(apperr.Transport, err, "delete blob record")
		}
		return 0, nil
	}
	if _, err := t.tx.Exec("UPDATE blobs SET refcount = refcount - 1 WHERE digest = ?", digestHex); err != nil {
		return 0, apperr.Wrap(apperr.Transport, err, "decrement blob refcount")
	}
	return newCount, nil
}
