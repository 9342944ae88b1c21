// Package fileservice is the orchestrator (component C5): it couples
// the catalog (C3), the blob store (C2), and upload sessions (C4) and
// implements the compound operations — upload-commit, move, copy,
// delete, path resolution, download preparation — whose invariants
// span more than one of those subsystems.
package fileservice

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
	"github.com/bit-hyperfs/hyperfs/internal/blobstore"
	"github.com/bit-hyperfs/hyperfs/internal/catalog"
	"github.com/bit-hyperfs/hyperfs/internal/digestio"
	"github.com/bit-hyperfs/hyperfs/internal/upload"
	"github.com/bit-hyperfs/hyperfs/internal/workerpool"
)

// Service is the file service orchestrator. It holds no per-request
// state; every method is safe to call concurrently (the catalog's
// transactions are the actual serialization point).
type Service struct {
	store  *catalog.Store
	blobs  *blobstore.Dir
	tmp    *digestio.TempArena
	logger *zap.Logger
	pool   *workerpool.Pool
}

func New(store *catalog.Store, blobs *blobstore.Dir, tmp *digestio.TempArena, logger *zap.Logger) *Service {
	return &Service{store: store, blobs: blobs, tmp: tmp, logger: logger}
}

// WithWorkerPool routes this service's direct blob-filesystem calls
// (Place/Discard/Remove) through pool, the same bounded pool the
// catalog store's transactions run on, per spec §5.
func (s *Service) WithWorkerPool(pool *workerpool.Pool) *Service {
	s.pool = pool
	return s
}

// runBlobOp executes fn, a blocking filesystem call, on the worker
// pool when one is attached.
func (s *Service) runBlobOp(ctx context.Context, fn func() error) error {
	if s.pool == nil {
		return fn()
	}
	return s.pool.Do(ctx, fn)
}

// StartUpload opens a new upload session (component C4).
func (s *Service) StartUpload() (*upload.Session, error) {
	return upload.Start(s.tmp)
}

// UploadResult describes the outcome of UploadCommit.
type UploadResult struct {
	NodeID     int64
	Duplicate  bool // sibling already had this exact content
	Overwrite  bool // replaced a differing file at the same path
	Refcount   int64
}

// UploadCommit implements spec §4.3 "Upload commit": given a finished
// upload session and a target (parentID, name), it atomically updates
// the catalog and blob refcount, then performs the post-commit
// filesystem placement with compensation on failure.
func (s *Service) UploadCommit(ctx context.Context, parentID int64, name string, result upload.Result) (UploadResult, error) {
	if name == "" {
		return UploadResult{}, apperr.New(apperr.BadRequest, "empty filename")
	}

	var (
		out           UploadResult
		needsPlace    bool
		oldDigestHex  string
		oldSize       int64
		decrementedOK bool
	)

	err := s.store.WithTx(ctx, func(tx *catalog.Tx) error {
		parent, err := tx.GetByID(parentID)
		if err != nil {
			return err
		}
		if parent.Kind != catalog.KindDirectory && parentID != catalog.RootID {
			return apperr.New(apperr.BadTarget, "parent is not a directory")
		}

		sibling, err := tx.GetByParentAndName(parentID, name)
		if apperr.Is(err, apperr.NotFound) {
			refcount, ierr := tx.InsertOrIncrement(result.Digest, result.Size)
			if ierr != nil {
				return ierr
			}
			needsPlace = refcount == 1
			id, ierr := tx.InsertFile(parentID, name, result.Digest.Hex(), result.Size, time.Now())
			if ierr != nil {
				return ierr
			}
			out.NodeID = id
			out.Refcount = refcount
			return nil
		}
		if err != nil {
			return err
		}

		if sibling.Kind == catalog.KindDirectory {
			return apperr.WithReason(apperr.NameConflict, "IsDirectory",
				"a directory with this name already exists")
		}

		if sibling.Digest == result.Digest.Hex() {
			out.NodeID = sibling.ID
			out.Duplicate = true
			return nil
		}

		oldDigestHex = sibling.Digest
		oldSize = sibling.Size
		newCount, derr := tx.Decrement(oldDigestHex)
		if derr != nil {
			return derr
		}
		decrementedOK = true
		_ = newCount

		refcount, ierr := tx.InsertOrIncrement(result.Digest, result.Size)
		if ierr != nil {
			return ierr
		}
		needsPlace = refcount == 1
		if uerr := tx.UpdateFileContent(sibling.ID, result.Digest.Hex(), result.Size, time.Now()); uerr != nil {
			return uerr
		}
		out.NodeID = sibling.ID
		out.Overwrite = true
		out.Refcount = refcount
		return nil
	})
	if err != nil {
		return UploadResult{}, err
	}

	if out.Duplicate {
		if derr := s.runBlobOp(ctx, func() error { return s.blobs.Discard(result.TempPath) }); derr != nil {
			s.logger.Warn("discard duplicate upload temp file", zap.Error(derr))
		}
		return out, nil
	}

	if needsPlace {
		if perr := s.runBlobOp(ctx, func() error { return s.blobs.Place(result.TempPath, result.Digest) }); perr != nil {
			s.compensateUpload(ctx, out, oldDigestHex, oldSize, decrementedOK)
			return UploadResult{}, perr
		}
	} else {
		if derr := s.runBlobOp(ctx, func() error { return s.blobs.Discard(result.TempPath) }); derr != nil {
			s.logger.Warn("discard overwritten-duplicate upload temp file", zap.Error(derr))
		}
	}

	if oldDigestHex != "" && oldDigestHex != result.Digest.Hex() {
		s.maybeRemoveOrphanedBlob(ctx, oldDigestHex)
	}

	return out, nil
}

// compensateUpload runs the compensating transaction described in
// spec §4.3: if the post-commit rename fails, undo the catalog side of
// step 3/6 so the blob refcount and the node tree never drift from the
// filesystem's view of what exists.
func (s *Service) compensateUpload(ctx context.Context, result UploadResult, oldDigestHex string, oldSize int64, hadOldBlob bool) {
	err := s.store.WithTx(ctx, func(tx *catalog.Tx) error {
		node, gerr := tx.GetByID(result.NodeID)
		if gerr != nil {
			return gerr
		}
		if _, derr := tx.Decrement(node.Digest); derr != nil {
			return derr
		}
		if result.Overwrite && hadOldBlob {
			if _, rerr := tx.InsertOrIncrement(mustParseDigest(oldDigestHex), oldSize); rerr != nil {
				return rerr
			}
			return tx.UpdateFileContent(result.NodeID, oldDigestHex, oldSize, time.Now())
		}
		_, derr := tx.DeleteSubtree(result.NodeID)
		return derr
	})
	if err != nil {
		s.logger.Error("compensating transaction failed after blob placement error", zap.Error(err))
	}
}

func mustParseDigest(hexDigest string) digestio.Digest {
	d, err := digestio.Parse(hexDigest)
	if err != nil {
		return digestio.Digest{}
	}
	return d
}

// maybeRemoveOrphanedBlob removes the on-disk file for a digest whose
// refcount the transaction just brought to zero. It re-checks the
// record so a concurrent re-upload racing in between isn't clobbered.
func (s *Service) maybeRemoveOrphanedBlob(ctx context.Context, digestHex string) {
	var gone bool
	err := s.store.View(ctx, func(tx *catalog.Tx) error {
		_, lerr := tx.LookupBlob(digestHex)
		gone = apperr.Is(lerr, apperr.NotFound)
		if lerr != nil && !gone {
			return lerr
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("check orphaned blob", zap.String("digest", digestHex), zap.Error(err))
		return
	}
	if gone {
		if rerr := s.runBlobOp(ctx, func() error { return s.blobs.Remove(digestHex) }); rerr != nil {
			s.logger.Warn("remove orphaned blob file", zap.String("digest", digestHex), zap.Error(rerr))
		}
	}
}

// CreateFolder creates a new directory node under parentID.
func (s *Service) CreateFolder(ctx context.Context, parentID int64, name string) (int64, error) {
	if name == "" {
		return 0, apperr.New(apperr.BadRequest, "empty folder name")
	}
	var id int64
	err := s.store.WithTx(ctx, func(tx *catalog.Tx) error {
		if _, err := tx.GetByParentAndName(parentID, name); err == nil {
			return apperr.New(apperr.NameConflict, "a node with this name already exists")
		} else if !apperr.Is(err, apperr.NotFound) {
			return err
		}
		newID, err := tx.InsertFolder(parentID, name, time.Now())
		if err != nil {
			return err
		}
		id = newID
		return nil
	})
	return id, err
}

// Rename changes the name of node id, enforcing I1 against its
// current parent.
func (s *Service) Rename(ctx context.Context, id int64, newName string) error {
	if newName == "" {
		return apperr.New(apperr.BadRequest, "empty name")
	}
	return s.store.WithTx(ctx, func(tx *catalog.Tx) error {
		node, err := tx.GetByID(id)
		if err != nil {
			return err
		}
		if node.Name == newName {
			return nil
		}
		if _, err := tx.GetByParentAndName(node.ParentID, newName); err == nil {
			return apperr.New(apperr.NameConflict, "a node with this name already exists")
		} else if !apperr.Is(err, apperr.NotFound) {
			return err
		}
		return tx.Rename(id, newName)
	})
}

// List returns the children of parentID.
func (s *Service) List(ctx context.Context, parentID int64) ([]catalog.Node, error) {
	var out []catalog.Node
	err := s.store.View(ctx, func(tx *catalog.Tx) error {
		if _, err := tx.GetByID(parentID); err != nil {
			return err
		}
		children, err := tx.ListChildren(parentID)
		if err != nil {
			return err
		}
		out = children
		return nil
	})
	return out, err
}

// Resolve walks a '/'-separated path from root, per spec §4.3.
func (s *Service) Resolve(ctx context.Context, path string) (catalog.Node, error) {
	var node catalog.Node
	err := s.store.View(ctx, func(tx *catalog.Tx) error {
		n, err := resolveInTx(tx, path)
		if err != nil {
			return err
		}
		node = n
		return nil
	})
	return node, err
}

func resolveInTx(tx *catalog.Tx, path string) (catalog.Node, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		root, _ := tx.GetByID(catalog.RootID)
		return root, nil
	}
	parts := strings.Split(path, "/")
	current := catalog.RootID
	var node catalog.Node
	for i, part := range parts {
		if part == "" {
			continue
		}
		n, err := tx.GetByParentAndName(current, part)
		if apperr.Is(err, apperr.NotFound) {
			return catalog.Node{}, apperr.New(apperr.PathNotFound, "path component not found: "+part)
		}
		if err != nil {
			return catalog.Node{}, err
		}
		if i < len(parts)-1 && n.Kind != catalog.KindDirectory {
			return catalog.Node{}, apperr.New(apperr.PathNotFound, "path component is not a directory: "+part)
		}
		node = n
		current = n.ID
	}
	return node, nil
}

// DownloadDescriptor points a caller at the blob backing a file node.
type DownloadDescriptor struct {
	Path string
	Size int64
	Name string
}

// PrepareDownload implements spec §4.3 "Download preparation":
// resolves id to its blob, increments the download counter, and
// detects catalog/filesystem divergence as MissingBlob.
func (s *Service) PrepareDownload(ctx context.Context, id int64) (DownloadDescriptor, error) {
	var node catalog.Node
	err := s.store.WithTx(ctx, func(tx *catalog.Tx) error {
		n, err := tx.GetByID(id)
		if err != nil {
			return err
		}
		if n.Kind == catalog.KindDirectory {
			return apperr.New(apperr.IsDirectory, "cannot download a directory")
		}
		if err := tx.IncrementDownloadCount(id); err != nil {
			return err
		}
		node = n
		return nil
	})
	if err != nil {
		return DownloadDescriptor{}, err
	}
	path := s.blobs.Path(node.Digest)
	if !s.blobs.Exists(node.Digest) {
		return DownloadDescriptor{}, apperr.WithReason(apperr.MissingBlob, node.Digest,
			"catalog references a blob missing from the data directory")
	}
	return DownloadDescriptor{Path: path, Size: node.Size, Name: node.Name}, nil
}

// Delete implements spec §4.3 "Delete": DeleteSubtree in one
// transaction, decrementing every removed file's blob, then removing
// on-disk files for any blob whose refcount reached zero.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var orphaned []string
	err := s.store.WithTx(ctx, func(tx *catalog.Tx) error {
		removed, err := tx.DeleteSubtree(id)
		if err != nil {
			return err
		}
		for _, f := range removed {
			newCount, derr := tx.Decrement(f.Digest)
			if derr != nil {
				return derr
			}
			if newCount == 0 {
				orphaned = append(orphaned, f.Digest)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, digestHex := range orphaned {
		if rerr := s.runBlobOp(ctx, func() error { return s.blobs.Remove(digestHex) }); rerr != nil {
			s.logger.Warn("remove blob file after delete", zap.String("digest", digestHex), zap.Error(rerr))
		}
	}
	return nil
}
