package store

import "fmt"

// Document kind constants.
const (
	KindCode           = "code"
	KindSkeleton       = "skeleton"
	KindFileMetadata   = "file_metadata"
	KindDependency     = "dependency"
	KindDataContract   = "data_contract"
	KindEntryPoint     = "entry_point"
	KindNote           = "note"
	KindInsight        = "insight"
	KindSessionSummary = "session_summary"
	KindTechStack      = "tech_stack"
	KindInitiative     = "initiative"
	KindFocus          = "focus"
)

// branchScopedKinds holds the document kinds that are scoped per-branch
// (invariant 6): a query for one branch must never surface another
// branch's code/skeleton/file_metadata/dependency/data_contract/entry_point.
var branchScopedKinds = map[string]bool{
	KindCode:         true,
	KindSkeleton:     true,
	KindFileMetadata: true,
	KindDependency:   true,
	KindDataContract: true,
	KindEntryPoint:   true,
}

// IsBranchScoped reports whether documents of this kind are tagged
// per-branch rather than shared across a repository's branches.
func IsBranchScoped(kind string) bool {
	return branchScopedKinds[kind]
}

// CodeChunkID builds the id for a code chunk: <repository>:<path>:<index>.
func CodeChunkID(repository, path string, index int) string {
	return fmt.Sprintf("%s:%s:%d", repository, path, index)
}

// SkeletonID builds the one-per-(repository,branch) skeleton document id.
func SkeletonID(repository, branch string) string {
	return fmt.Sprintf("%s:skeleton:%s", repository, branch)
}

// TechStackID builds the one-per-repository tech_stack document id.
func TechStackID(repository string) string {
	return fmt.Sprintf("%s:tech_stack", repository)
}

// FocusID builds the one-per-repository focus pointer document id.
func FocusID(repository string) string {
	return fmt.Sprintf("%s:focus", repository)
}
