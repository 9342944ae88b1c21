package catalog

import (
	"database/sql"
	"time"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
)

// Kind distinguishes a file node from a directory node.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Node is a metadata node: a file or a directory within the catalog
// tree (spec §3).
type Node struct {
	ID            int64
	ParentID      int64
	Name          string
	Kind          Kind
	Digest        string // empty for directories
	Size          int64
	UploadTimeMS  int64
	DownloadCount int64
}

// rootNode is the synthetic, never-persisted root descriptor.
func rootNode() Node {
	return Node{ID: RootID, ParentID: RootID, Name: "", Kind: KindDirectory}
}

func scanNode(row interface{ Scan(...any) error }) (Node, error) {
	var n Node
	var digest sql.NullString
	var isFolder int
	if err := row.Scan(&n.ID, &n.ParentID, &n.Name, &isFolder, &digest, &n.Size, &n.UploadTimeMS, &n.DownloadCount); err != nil {
		return Node{}, err
	}
	if isFolder != 0 {
		n.Kind = KindDirectory
	} else {
		n.Kind = KindFile
	}
	if digest.Valid {
		n.Digest = digest.String
	}
	return n, nil
}

const nodeColumns = "id, parent_id, name, is_folder, digest, size, upload_time, download_count"

// GetByID returns the node with id, or NotFound. id 0 returns the
// synthetic root.
func (t *Tx) GetByID(id int64) (Node, error) {
	if id == RootID {
		return rootNode(), nil
	}
	row := t.tx.QueryRow("SELECT "+nodeColumns+" FROM nodes WHERE id = ?", id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return Node{}, apperr.New(apperr.NotFound, "node not found")
	}
	if err != nil {
		return Node{}, apperr.Wrap(apperr.Transport, err, "get node by id")
	}
	return n, nil
}

// GetByParentAndName returns the child of parentID named name, or
// NotFound.
func (t *Tx) GetByParentAndName(parentID int64, name string) (Node, error) {
	row := t.tx.QueryRow("SELECT "+nodeColumns+" FROM nodes WHERE parent_id = ? AND name = ?", parentID, name)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return Node{}, apperr.New(apperr.NotFound, "sibling not found")
	}
	if err != nil {
		return Node{}, apperr.Wrap(apperr.Transport, err, "get node by parent and name")
	}
	return n, nil
}

// ListChildren returns the children of parentID in a stable (by id)
// order. The ordering is not contractually meaningful (spec §4.2) but
// must be stable per call.
func (t *Tx) ListChildren(parentID int64) ([]Node, error) {
	rows, err := t.tx.Query("SELECT "+nodeColumns+" FROM nodes WHERE parent_id = ? ORDER BY id", parentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, err, "list children")
	}
	defer rows.Close()
	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Transport, err, "scan child")
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Transport, err, "list children")
	}
	return out, nil
}

// InsertFile creates a new file node. Callers must have already
// ensured (parent_id, name) is free and the blob refcount updated in
// the same transaction, per spec §4.3.
func (t *Tx) InsertFile(parentID int64, name, digest string, size int64, now time.Time) (int64, error) {
	res, err := t.tx.Exec(
		"INSERT INTO nodes (parent_id, name, is_folder, digest, size, upload_time) VALUES (?, ?, 0, ?, ?, ?)",
		parentID, name, digest, size, now.UnixMilli(),
	)
	if err != nil {
		return 0, conflictOrTransport(err, "insert file")
	}
	return res.LastInsertId()
}

// InsertFolder creates a new directory node.
func (t *Tx) InsertFolder(parentID int64, name string, now time.Time) (int64, error) {
	res, err := t.tx.Exec(
		"INSERT INTO nodes (parent_id, name, is_folder, upload_time) VALUES (?, ?, 1, ?)",
		parentID, name, now.UnixMilli(),
	)
	if err != nil {
		return 0, conflictOrTransport(err, "insert folder")
	}
	return res.LastInsertId()
}

// UpdateFileContent replaces the content reference of file node id.
// The caller is responsible for the matching blob refcount
// adjustments in the same transaction.
func (t *Tx) UpdateFileContent(id int64, digest string, size int64, now time.Time) error {
	_, err := t.tx.Exec(
		"UPDATE nodes SET digest = ?, size = ?, upload_time = ? WHERE id = ?",
		digest, size, now.UnixMilli(), id,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transport, err, "update file content")
	}
	return nil
}

// Rename changes only the name of node id.
func (t *Tx) Rename(id int64, newName string) error {
	_, err := t.tx.Exec("UPDATE nodes SET name = ? WHERE id = ?", newName, id)
	if err != nil {
		return conflictOrTransport(err, "rename node")
	}
	return nil
}

// Reparent moves node id under newParentID, optionally renaming it in
// the same statement (combined move+rename, spec §4.2).
func (t *Tx) Reparent(id, newParentID int64, newName string) error {
	_, err := t.tx.Exec("UPDATE nodes SET parent_id = ?, name = ? WHERE id = ?", newParentID, newName, id)
	if err != nil {
		return conflictOrTransport(err, "reparent node")
	}
	return nil
}

// IncrementDownloadCount bumps the download counter of node id.
func (t *Tx) IncrementDownloadCount(id int64) error {
	_, err := t.tx.Exec("UPDATE nodes SET download_count = download_count + 1 WHERE id = ?", id)
	if err != nil {
		return apperr.Wrap(apperr.Transport, err, "increment download count")
	}
	return nil
}

// DeleteSubtree recursively deletes node id and, if it is a directory,
// every descendant, using an explicit stack instead of call recursion
// so the transaction stays auditable (spec §9 "recursive deletion").
// It returns every file node removed so the caller can decrement their
// blobs.
func (t *Tx) DeleteSubtree(id int64) ([]Node, error) {
	root, err := t.GetByID(id)
	if err != nil {
		return nil, err
	}

	var removedFiles []Node
	stack := []Node{root}
	var toDelete []int64

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		toDelete = append(toDelete, n.ID)
		if n.Kind == KindDirectory {
			children, err := t.ListChildren(n.ID)
			if err != nil {
				return nil, err
			}
			stack = append(stack, children...)
		} else {
			removedFiles = append(removedFiles, n)
		}
	}

	// Delete children before parents is not required by foreign keys
	// (there are none; I2/I3 are enforced by this transaction), but
	// deleting leaves first keeps a partial failure from ever leaving
	// an orphaned child pointing at a missing parent mid-sweep.
	for i := len(toDelete) - 1; i >= 0; i-- {
		if _, err := t.tx.Exec("DELETE FROM nodes WHERE id = ?", toDelete[i]); err != nil {
			return nil, apperr.Wrap(apperr.Transport, err, "delete node")
		}
	}
	return removedFiles, nil
}

func conflictOrTransport(err error, op string) error {
	// mattn/go-sqlite3 surfaces UNIQUE constraint violations as a
	// sqlite3.Error; isUniqueViolation classifies it by its error code.
	if isUniqueViolation(err) {
		return apperr.New(apperr.NameConflict, "name already exists in target directory")
	}
	return apperr.Wrap(apperr.Transport, err, op)
}
