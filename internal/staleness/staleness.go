// Package staleness assesses whether a note or insight may be out of date,
// from file-hash drift, file deletion, and age against configured
// thresholds — the per-result freshness check the search pipeline and
// orient both call into.
package staleness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cortexmemory/cortex/internal/walker"
)

// Level is a staleness classification, ordered roughly by severity.
type Level string

const (
	LevelFresh         Level = "fresh"
	LevelPossiblyStale Level = "possibly_stale"
	LevelLikelyStale   Level = "likely_stale"
	LevelFilesDeleted  Level = "files_deleted"
	LevelDeprecated    Level = "deprecated"
)

// Thresholds parameterizes the day cutoffs; zero values fall back to the
// package defaults (30/90), matching config.RuntimeCfg's defaults.
type Thresholds struct {
	StaleDays     int
	VeryStaleDays int
}

const (
	defaultStaleDays     = 30
	defaultVeryStaleDays = 90
)

func (t Thresholds) resolve() (int, int) {
	stale, veryStale := t.StaleDays, t.VeryStaleDays
	if stale <= 0 {
		stale = defaultStaleDays
	}
	if veryStale <= 0 {
		veryStale = defaultVeryStaleDays
	}
	return stale, veryStale
}

// Result is the outcome of CheckInsight/CheckNote.
type Result struct {
	Level             Level
	VerificationReq   bool
	Reasons           []string
	FilesChanged      []string
	FilesDeleted      []string
	DaysSinceCreated  int
	DaysSinceVerified int
	SupersededBy      string
}

// CheckInsight implements the insight precedence chain: deprecated >
// files_deleted > files_changed (likely_stale) > very-stale (90d,
// verification required) > stale (30d, advisory) > fresh. repoPath may be
// empty, in which case file-based checks are skipped entirely.
func CheckInsight(meta map[string]any, repoPath string, th Thresholds) Result {
	result := Result{Level: LevelFresh}

	if status, _ := meta["status"].(string); status == "deprecated" {
		result.Level = LevelDeprecated
		result.Reasons = append(result.Reasons, "Insight has been deprecated")
		result.SupersededBy, _ = meta["superseded_by"].(string)
		return result
	}

	result.DaysSinceCreated = daysSince(metaString(meta, "created_at"))
	verifiedAt := metaString(meta, "verified_at")
	if verifiedAt == "" {
		verifiedAt = metaString(meta, "created_at")
	}
	result.DaysSinceVerified = daysSince(verifiedAt)

	linkedFiles := decodeStringArray(meta["files"])
	storedHashes := decodeStringMap(meta["file_hashes"])

	if len(linkedFiles) > 0 && repoPath != "" {
		for _, f := range linkedFiles {
			full := f
			if !filepath.IsAbs(full) {
				full = filepath.Join(repoPath, f)
			}
			if _, err := os.Stat(full); os.IsNotExist(err) {
				result.FilesDeleted = append(result.FilesDeleted, f)
				continue
			}
			if stored, ok := storedHashes[f]; ok && stored != "" {
				current, err := walker.ComputeFileHash(full)
				if err == nil && current != stored {
					result.FilesChanged = append(result.FilesChanged, f)
				}
			}
		}
	}

	staleDays, veryStaleDays := th.resolve()

	switch {
	case len(result.FilesDeleted) > 0:
		result.Level = LevelFilesDeleted
		result.Reasons = append(result.Reasons, fmt.Sprintf("Linked file(s) deleted: %s", strings.Join(result.FilesDeleted, ", ")))
		result.VerificationReq = true

	case len(result.FilesChanged) > 0:
		result.Level = LevelLikelyStale
		result.Reasons = append(result.Reasons, fmt.Sprintf("Linked file(s) modified: %s", strings.Join(result.FilesChanged, ", ")))
		result.VerificationReq = true

	case result.DaysSinceVerified >= veryStaleDays:
		result.Level = LevelPossiblyStale
		result.Reasons = append(result.Reasons, fmt.Sprintf("Not verified in %d days", result.DaysSinceVerified))
		result.VerificationReq = true

	case result.DaysSinceVerified >= staleDays:
		result.Level = LevelPossiblyStale
		result.Reasons = append(result.Reasons, fmt.Sprintf("Insight is %d days old", result.DaysSinceVerified))
		result.VerificationReq = false
	}

	return result
}

// CheckNote mirrors CheckInsight but is file-independent: only the
// very-stale threshold triggers (notes have no linked files to hash-diff
// against, so the lower advisory threshold doesn't apply).
func CheckNote(meta map[string]any, th Thresholds) Result {
	result := Result{Level: LevelFresh}

	if status, _ := meta["status"].(string); status == "deprecated" {
		result.Level = LevelDeprecated
		result.Reasons = append(result.Reasons, "Note has been deprecated")
		result.SupersededBy, _ = meta["superseded_by"].(string)
		return result
	}

	result.DaysSinceCreated = daysSince(metaString(meta, "created_at"))
	verifiedAt := metaString(meta, "verified_at")
	if verifiedAt == "" {
		verifiedAt = metaString(meta, "created_at")
	}
	result.DaysSinceVerified = daysSince(verifiedAt)

	_, veryStaleDays := th.resolve()
	if result.DaysSinceVerified >= veryStaleDays {
		result.Level = LevelPossiblyStale
		result.Reasons = append(result.Reasons, fmt.Sprintf("Note is %d days old", result.DaysSinceVerified))
		result.VerificationReq = true
	}

	return result
}

// FormatWarning renders a human-readable verification warning, or "" if
// none is needed. Deprecated always warns, even when VerificationReq is
// false; a superseded_by id is named in the deprecated-warning when present.
func FormatWarning(r Result, meta map[string]any) string {
	docType := metaString(meta, "type")
	if docType == "" {
		docType = "note"
	}

	switch r.Level {
	case LevelDeprecated:
		if r.SupersededBy != "" {
			return fmt.Sprintf("DEPRECATED: This %s has been marked invalid. See replacement: %s", docType, r.SupersededBy)
		}
		return fmt.Sprintf("DEPRECATED: This %s has been marked invalid.", docType)

	case LevelFilesDeleted:
		if !r.VerificationReq {
			return ""
		}
		files := strings.Join(r.FilesDeleted, ", ")
		return fmt.Sprintf(
			"VERIFICATION REQUIRED - FILES DELETED: The files this %s references (%s) no longer exist. "+
				"This %s may be obsolete. DO NOT TRUST without investigation.", docType, files, docType)

	case LevelLikelyStale:
		if !r.VerificationReq {
			return ""
		}
		files := strings.Join(r.FilesChanged, ", ")
		return fmt.Sprintf(
			"VERIFICATION REQUIRED - FILES CHANGED: This %s references files that have been modified "+
				"since it was created (%s). You MUST re-read these files to verify this analysis is still "+
				"accurate before using this information.", docType, files)

	case LevelPossiblyStale:
		if !r.VerificationReq {
			return ""
		}
		return fmt.Sprintf(
			"POSSIBLY OUTDATED: This %s is %d days old and has not been verified recently. "+
				"Consider validating before relying on it heavily.", docType, r.DaysSinceVerified)
	}

	return ""
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func daysSince(rfc3339 string) int {
	if rfc3339 == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return 0
	}
	return int(time.Now().UTC().Sub(t).Hours() / 24)
}

func decodeStringArray(v any) []string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func decodeStringMap(v any) map[string]string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
