package fileservice

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/bit-hyperfs/hyperfs/internal/catalog"
)

// ReconcileReport summarizes a startup consistency sweep.
type ReconcileReport struct {
	BlobsScanned    int
	MissingOnDisk   []string // catalog has a blob record, no file on disk
	UntrackedOnDisk []string // file on disk, no catalog blob record
}

// ReconcileOrphans walks the blob directory and the catalog's blobs
// table and reports where they diverge. It never repairs anything —
// divergence here means either a prior crash mid-placement/removal, or
// manual interference with the data directory, and the operator
// decides what to do about it.
func (s *Service) ReconcileOrphans(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	onDisk := map[string]struct{}{}
	entries, err := os.ReadDir(s.blobs.Root)
	if err != nil && !os.IsNotExist(err) {
		return report, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		onDisk[e.Name()] = struct{}{}
	}

	inCatalog := map[string]struct{}{}
	err = s.store.View(ctx, func(tx *catalog.Tx) error {
		digests, err := tx.ListAllDigests()
		if err != nil {
			return err
		}
		for _, d := range digests {
			inCatalog[d] = struct{}{}
			report.BlobsScanned++
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	for d := range inCatalog {
		if _, ok := onDisk[d]; !ok {
			report.MissingOnDisk = append(report.MissingOnDisk, d)
		}
	}
	for d := range onDisk {
		if _, ok := inCatalog[d]; !ok {
			report.UntrackedOnDisk = append(report.UntrackedOnDisk, d)
		}
	}

	if len(report.MissingOnDisk) > 0 {
		s.logger.Warn("blob records with no file on disk", zap.Strings("digests", report.MissingOnDisk))
	}
	if len(report.UntrackedOnDisk) > 0 {
		s.logger.Warn("files on disk with no blob record", zap.Strings("paths", pathsUnder(s.blobs.Root, report.UntrackedOnDisk)))
	}
	return report, nil
}

func pathsUnder(root string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(root, n)
	}
	return out
}
