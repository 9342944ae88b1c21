package fileservice

import (
	"context"
	"fmt"
	"time"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
	"github.com/bit-hyperfs/hyperfs/internal/catalog"
)

// Move implements spec §4.3 "Move": reparents node id under
// newParentID, resolving a same-name collision per strategy. FAIL
// rejects the call, RENAME picks the first free "name (n)" suffix,
// OVERWRITE replaces a file-over-file target in place (never a
// directory).
func (s *Service) Move(ctx context.Context, id, newParentID int64, newName string, strategy ConflictStrategy) (int64, error) {
	var resultID int64
	var orphanedDigest string
	err := s.store.WithTx(ctx, func(tx *catalog.Tx) error {
		node, err := tx.GetByID(id)
		if err != nil {
			return err
		}
		newParent, err := tx.GetByID(newParentID)
		if err != nil {
			return err
		}
		if newParent.Kind != catalog.KindDirectory && newParentID != catalog.RootID {
			return apperr.New(apperr.BadTarget, "destination is not a directory")
		}
		if newName == "" {
			newName = node.Name
		}
		if node.Kind == catalog.KindDirectory {
			if err := rejectCycle(tx, node.ID, newParentID); err != nil {
				return err
			}
		}

		existing, err := tx.GetByParentAndName(newParentID, newName)
		if apperr.Is(err, apperr.NotFound) {
			resultID = node.ID
			return tx.Reparent(node.ID, newParentID, newName)
		}
		if err != nil {
			return err
		}
		if existing.ID == node.ID {
			resultID = node.ID
			return nil
		}

		switch strategy {
		case StrategyRename:
			freeName, err := firstFreeName(tx, newParentID, newName)
			if err != nil {
				return err
			}
			resultID = node.ID
			return tx.Reparent(node.ID, newParentID, freeName)
		case StrategyOverwrite:
			if node.Kind == catalog.KindDirectory || existing.Kind == catalog.KindDirectory {
				return apperr.New(apperr.BadTarget, "OVERWRITE only applies between two files")
			}
			gone, err := overwriteTarget(tx, existing, node)
			if err != nil {
				return err
			}
			if gone {
				orphanedDigest = existing.Digest
			}
			resultID = existing.ID
			return nil
		default:
			return apperr.New(apperr.NameConflict, "destination name already exists")
		}
	})
	if err == nil && orphanedDigest != "" {
		s.maybeRemoveOrphanedBlob(ctx, orphanedDigest)
	}
	return resultID, err
}

// rejectCycle walks candidateNewParent's ancestor chain up to the
// root, failing if movingID appears in it — spec §4.3 invariant "a
// directory may not be moved into its own subtree" (I4).
func rejectCycle(tx *catalog.Tx, movingID, candidateNewParent int64) error {
	current := candidateNewParent
	for current != catalog.RootID {
		if current == movingID {
			return apperr.New(apperr.CycleForbidden, "cannot move a directory into its own subtree")
		}
		n, err := tx.GetByID(current)
		if err != nil {
			return err
		}
		current = n.ParentID
	}
	return nil
}

// firstFreeName finds the smallest n >= 1 such that inserting " (n)"
// before the last extension of base (or at the end, if base has none)
// is free under parentID, per spec §4.3's RENAME conflict strategy.
func firstFreeName(tx *catalog.Tx, parentID int64, base string) (string, error) {
	stem, ext := splitExt(base)
	for n := 1; n < 10000; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		_, err := tx.GetByParentAndName(parentID, candidate)
		if apperr.Is(err, apperr.NotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", apperr.New(apperr.NameConflict, "exhausted rename suffixes")
}

// splitExt splits name into (stem, ext) on its last '.', excluding a
// leading dot (so ".gitignore" has no extension). Returns (name, "")
// when there is no extension to preserve.
func splitExt(name string) (string, string) {
	dot := -1
	for i := len(name) - 1; i > 0; i-- {
		if name[i] == '.' {
			dot = i
			break
		}
	}
	if dot <= 0 {
		return name, ""
	}
	return name[:dot], name[dot:]
}

// overwriteTarget replaces existing's content reference with moving's,
// adjusting blob refcounts, then deletes the moving node — used by
// Move/OVERWRITE once the caller has decided which node supplies the
// new content. Reports whether existing's old blob reached refcount
// zero, so the caller can schedule its on-disk file for removal.
func overwriteTarget(tx *catalog.Tx, existing, moving catalog.Node) (bool, error) {
	var oldBlobGone bool
	if existing.Digest != "" {
		newCount, err := tx.Decrement(existing.Digest)
		if err != nil {
			return false, err
		}
		oldBlobGone = newCount == 0
	}
	if moving.Digest != "" {
		if _, err := tx.InsertOrIncrement(mustParseDigest(moving.Digest), moving.Size); err != nil {
			return false, err
		}
		if _, err := tx.Decrement(moving.Digest); err != nil {
			return false, err
		}
	}
	if err := tx.UpdateFileContent(existing.ID, moving.Digest, moving.Size, time.Now()); err != nil {
		return false, err
	}
	if _, err := tx.DeleteSubtree(moving.ID); err != nil {
		return false, err
	}
	return oldBlobGone, nil
}
