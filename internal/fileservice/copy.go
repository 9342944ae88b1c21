package fileservice

import (
	"context"
	"time"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
	"github.com/bit-hyperfs/hyperfs/internal/catalog"
)

// Copy implements spec §4.3 "Copy": a copy never writes blob bytes. A
// file copy is a refcount increment on the same blob; a directory copy
// recurses over children inside the same transaction. Conflict
// handling mirrors Move; the only filesystem effect is that an
// OVERWRITE which drops the replaced file's blob to refcount zero
// removes that blob's on-disk file after commit.
func (s *Service) Copy(ctx context.Context, id, destParentID int64, newName string, strategy ConflictStrategy) (int64, error) {
	var resultID int64
	var orphanedDigest string
	err := s.store.WithTx(ctx, func(tx *catalog.Tx) error {
		node, err := tx.GetByID(id)
		if err != nil {
			return err
		}
		destParent, err := tx.GetByID(destParentID)
		if err != nil {
			return err
		}
		if destParent.Kind != catalog.KindDirectory && destParentID != catalog.RootID {
			return apperr.New(apperr.BadTarget, "destination is not a directory")
		}
		if newName == "" {
			newName = node.Name
		}
		if node.Kind == catalog.KindDirectory && isAncestorOrSelf(tx, node.ID, destParentID) {
			return apperr.New(apperr.CycleForbidden, "cannot copy a directory into its own subtree")
		}

		existing, err := tx.GetByParentAndName(destParentID, newName)
		if apperr.Is(err, apperr.NotFound) {
			newID, err := copyNodeRecursive(tx, node, destParentID, newName)
			if err != nil {
				return err
			}
			resultID = newID
			return nil
		}
		if err != nil {
			return err
		}

		switch strategy {
		case StrategyRename:
			freeName, err := firstFreeName(tx, destParentID, newName)
			if err != nil {
				return err
			}
			newID, err := copyNodeRecursive(tx, node, destParentID, freeName)
			if err != nil {
				return err
			}
			resultID = newID
			return nil
		case StrategyOverwrite:
			if node.Kind == catalog.KindDirectory || existing.Kind == catalog.KindDirectory {
				return apperr.New(apperr.BadTarget, "OVERWRITE only applies between two files")
			}
			if existing.Digest != "" {
				newCount, err := tx.Decrement(existing.Digest)
				if err != nil {
					return err
				}
				if newCount == 0 {
					orphanedDigest = existing.Digest
				}
			}
			if _, err := tx.InsertOrIncrement(mustParseDigest(node.Digest), node.Size); err != nil {
				return err
			}
			if err := tx.UpdateFileContent(existing.ID, node.Digest, node.Size, time.Now()); err != nil {
				return err
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

// copyNodeRecursive creates a new node under destParentID named
// newName that mirrors node, incrementing the shared blob's refcount
// for a file or recursing over children for a directory.
func copyNodeRecursive(tx *catalog.Tx, node catalog.Node, destParentID int64, newName string) (int64, error) {
	if node.Kind == catalog.KindFile {
		if _, err := tx.InsertOrIncrement(mustParseDigest(node.Digest), node.Size); err != nil {
			return 0, err
		}
		return tx.InsertFile(destParentID, newName, node.Digest, node.Size, time.Now())
	}

	newID, err := tx.InsertFolder(destParentID, newName, time.Now())
	if err != nil {
		return 0, err
	}
	children, err := tx.ListChildren(node.ID)
	if err != nil {
		return 0, err
	}
	for _, child := range children {
		if _, err := copyNodeRecursive(tx, child, newID, child.Name); err != nil {
			return 0, err
		}
	}
	return newID, nil
}

// isAncestorOrSelf reports whether nodeID is candidateAncestor or one
// of candidateAncestor's ancestors, walking up from candidateAncestor
// to the root.
func isAncestorOrSelf(tx *catalog.Tx, nodeID, candidateAncestor int64) bool {
	current := candidateAncestor
	for {
		if current == nodeID {
			return true
		}
		if current == catalog.RootID {
			return false
		}
		n, err := tx.GetByID(current)
		if err != nil {
			return false
		}
		current = n.ParentID
	}
}
