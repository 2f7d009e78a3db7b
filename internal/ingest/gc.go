package ingest

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cortexmemory/cortex/internal/store"
)

// DeleteFileChunks removes every code/file_metadata/dependency document for
// the given paths in repository, returning the number of documents removed.
func DeleteFileChunks(db *store.DB, paths []string, repository string) (int64, error) {
	var total int64
	for _, p := range paths {
		n, err := db.Delete(nil, store.Filter{
			"$and": []store.Filter{
				{"file_path": p},
				{"repository": repository},
			},
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// OrphanReport is the result of one orphan-cleanup pass.
type OrphanReport struct {
	Count         int
	Deleted       int
	OrphanedPaths []string
}

// CleanupOrphanedFileMetadata finds file_metadata documents whose file_path
// no longer exists under repoPath and, unless dryRun, deletes them.
func CleanupOrphanedFileMetadata(db *store.DB, repoPath, repository string, dryRun bool) (OrphanReport, error) {
	return cleanupOrphanedByPath(db, repoPath, repository, store.KindFileMetadata, dryRun)
}

// CleanupOrphanedDependencies mirrors CleanupOrphanedFileMetadata for
// dependency documents.
func CleanupOrphanedDependencies(db *store.DB, repoPath, repository string, dryRun bool) (OrphanReport, error) {
	return cleanupOrphanedByPath(db, repoPath, repository, store.KindDependency, dryRun)
}

func cleanupOrphanedByPath(db *store.DB, repoPath, repository, kind string, dryRun bool) (OrphanReport, error) {
	res, err := db.Get(nil, store.Filter{
		"$and": []store.Filter{{"type": kind}, {"repository": repository}},
	}, store.Include{Metadata: true})
	if err != nil {
		return OrphanReport{}, err
	}

	var orphanIDs, orphanPaths []string
	for i, meta := range res.Metadatas {
		path, _ := meta["file_path"].(string)
		if path == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(repoPath, path)); os.IsNotExist(err) {
			orphanIDs = append(orphanIDs, res.IDs[i])
			orphanPaths = append(orphanPaths, path)
		}
	}

	report := OrphanReport{Count: len(orphanIDs), OrphanedPaths: limitSample(orphanPaths, 20)}
	if len(orphanIDs) == 0 || dryRun {
		return report, nil
	}
	n, err := db.Delete(orphanIDs, nil)
	if err != nil {
		return report, err
	}
	report.Deleted = int(n)
	return report, nil
}

// CleanupOrphanedInsights removes insights whose linked files (per the
// metadata "files" JSON array) are ALL missing from disk — an insight with
// at least one surviving file stays, since staleness annotation (not
// deletion) is the right response to partial file loss.
func CleanupOrphanedInsights(db *store.DB, repoPath, repository string, dryRun bool) (OrphanReport, error) {
	res, err := db.Get(nil, store.Filter{
		"$and": []store.Filter{{"type": store.KindInsight}, {"repository": repository}},
	}, store.Include{Metadata: true})
	if err != nil {
		return OrphanReport{}, err
	}

	var orphanIDs []string
	for i, meta := range res.Metadatas {
		files := decodeJSONStringArray(meta["files"])
		if len(files) == 0 {
			continue
		}
		allMissing := true
		for _, f := range files {
			if _, err := os.Stat(filepath.Join(repoPath, f)); err == nil {
				allMissing = false
				break
			}
		}
		if allMissing {
			orphanIDs = append(orphanIDs, res.IDs[i])
		}
	}

	report := OrphanReport{Count: len(orphanIDs), OrphanedPaths: limitSample(orphanIDs, 20)}
	if len(orphanIDs) == 0 || dryRun {
		return report, nil
	}
	n, err := db.Delete(orphanIDs, nil)
	if err != nil {
		return report, err
	}
	report.Deleted = int(n)
	return report, nil
}

// deprecatedMaxAgeDays is how long a deprecated insight is kept before
// permanent cleanup, allowing a window for recovery.
const deprecatedMaxAgeDays = 180

// CleanupDeprecatedInsights deletes insights with status=deprecated whose
// deprecated_at is older than maxAgeDays (0 uses the default).
func CleanupDeprecatedInsights(db *store.DB, maxAgeDays int, repository string) (int, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = deprecatedMaxAgeDays
	}
	cutoff := time.Now().UTC().Add(-time.Duration(maxAgeDays) * 24 * time.Hour).Format(time.RFC3339)

	filter := store.Filter{
		"$and": []store.Filter{{"type": store.KindInsight}, {"status": "deprecated"}},
	}
	if repository != "" {
		and := filter["$and"].([]store.Filter)
		filter["$and"] = append(and, store.Filter{"repository": repository})
	}

	res, err := db.Get(nil, filter, store.Include{Metadata: true})
	if err != nil {
		return 0, err
	}

	var ids []string
	for i, meta := range res.Metadatas {
		deprecatedAt, _ := meta["deprecated_at"].(string)
		if deprecatedAt != "" && deprecatedAt < cutoff {
			ids = append(ids, res.IDs[i])
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := db.Delete(ids, nil)
	return int(n), err
}

// PurgeFilters narrows a PurgeByFilters call.
type PurgeFilters struct {
	Repository string
	Branch     string
	Type       string
	Before     string // RFC 3339
	After      string // RFC 3339
}

// PurgeResult reports what PurgeByFilters matched and, unless dryRun, deleted.
type PurgeResult struct {
	MatchedCount int
	DeletedCount int
	SampleIDs    []string
}

// PurgeByFilters deletes documents matching f (post-filtering by date, since
// the filter algebra has no range operator), unless dryRun is set.
func PurgeByFilters(db *store.DB, f PurgeFilters, dryRun bool) (PurgeResult, error) {
	var conditions []store.Filter
	if f.Repository != "" {
		conditions = append(conditions, store.Filter{"repository": f.Repository})
	}
	if f.Branch != "" {
		conditions = append(conditions, store.Filter{"branch": f.Branch})
	}
	if f.Type != "" {
		conditions = append(conditions, store.Filter{"type": f.Type})
	}

	var where store.Filter
	switch len(conditions) {
	case 0:
		where = store.Filter{}
	case 1:
		where = conditions[0]
	default:
		where = store.Filter{"$and": conditions}
	}

	res, err := db.Get(nil, where, store.Include{Metadata: true})
	if err != nil {
		return PurgeResult{}, err
	}

	var ids []string
	for i, meta := range res.Metadatas {
		createdAt, _ := meta["created_at"].(string)
		if f.Before != "" && createdAt != "" && createdAt >= f.Before {
			continue
		}
		if f.After != "" && createdAt != "" && createdAt <= f.After {
			continue
		}
		ids = append(ids, res.IDs[i])
	}

	result := PurgeResult{MatchedCount: len(ids), SampleIDs: limitSample(ids, 10)}
	if len(ids) == 0 || dryRun {
		return result, nil
	}
	n, err := db.Delete(ids, nil)
	if err != nil {
		return result, err
	}
	result.DeletedCount = int(n)
	return result, nil
}

// DeleteDocumentResult reports the outcome of DeleteDocument.
type DeleteDocumentResult struct {
	Found bool
	Type  string
}

// DeleteDocument removes a single document by id.
func DeleteDocument(db *store.DB, id string) (DeleteDocumentResult, error) {
	res, err := db.Get([]string{id}, nil, store.Include{Metadata: true})
	if err != nil {
		return DeleteDocumentResult{}, err
	}
	if len(res.IDs) == 0 {
		return DeleteDocumentResult{Found: false}, nil
	}
	docType, _ := res.Metadatas[0]["type"].(string)
	if _, err := db.Delete([]string{id}, nil); err != nil {
		return DeleteDocumentResult{}, err
	}
	return DeleteDocumentResult{Found: true, Type: docType}, nil
}

func limitSample(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
