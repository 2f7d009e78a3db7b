package search

import (
	"fmt"

	"github.com/cortexmemory/cortex/internal/store"
)

// branchScopedTypes and crossBranchTypes partition the searchable document
// kinds per invariant 6 (focus is a pointer document, not a search result,
// so it's excluded from both).
var branchScopedTypes = []string{
	store.KindCode, store.KindSkeleton, store.KindFileMetadata,
	store.KindDependency, store.KindDataContract, store.KindEntryPoint,
}

var crossBranchTypes = []string{
	store.KindNote, store.KindInsight, store.KindSessionSummary,
	store.KindTechStack, store.KindInitiative,
}

var searchPresets = map[string][]string{
	"understanding": {store.KindInsight, store.KindNote, store.KindSessionSummary},
	"navigation":    {store.KindFileMetadata, store.KindEntryPoint, store.KindDataContract},
	"structure":     {store.KindFileMetadata, store.KindDependency, store.KindSkeleton},
	"trace":         {store.KindEntryPoint, store.KindDependency, store.KindDataContract},
	"memory":        {store.KindNote, store.KindInsight, store.KindSessionSummary, store.KindTechStack, store.KindInitiative},
}

// resolveTypes applies a named preset when given and no explicit types
// were requested; explicit types win over a preset.
func resolveTypes(types []string, preset string) []string {
	if len(types) > 0 {
		return types
	}
	if preset != "" {
		if resolved, ok := searchPresets[preset]; ok {
			return resolved
		}
	}
	return nil
}

// buildFilter builds the where-filter for hybrid retrieval: branch
// restriction applies only to branch-scoped types (code, skeleton,
// file_metadata, dependency, data_contract, entry_point); semantic memory
// types are never branch-filtered.
func buildFilter(repository string, types []string, branches []string) store.Filter {
	branchesKnown := len(branches) > 0 && !(len(branches) == 1 && branches[0] == "unknown")

	var typeFilter store.Filter
	if len(types) > 0 {
		scoped, cross := splitByBranchScope(types)
		if len(scoped) > 0 && branchesKnown {
			conditions := []store.Filter{
				{"$and": []store.Filter{
					{"type": map[string]any{"$in": toAnySlice(scoped)}},
					{"branch": map[string]any{"$in": toAnySlice(branches)}},
				}},
			}
			if len(cross) > 0 {
				conditions = append(conditions, store.Filter{"type": map[string]any{"$in": toAnySlice(cross)}})
			}
			if len(conditions) > 1 {
				typeFilter = store.Filter{"$or": conditions}
			} else {
				typeFilter = conditions[0]
			}
		} else {
			typeFilter = store.Filter{"type": map[string]any{"$in": toAnySlice(types)}}
		}
	} else if branchesKnown {
		typeFilter = store.Filter{"$or": []store.Filter{
			{"$and": []store.Filter{
				{"type": map[string]any{"$in": toAnySlice(branchScopedTypes)}},
				{"branch": map[string]any{"$in": toAnySlice(branches)}},
			}},
			{"type": map[string]any{"$in": toAnySlice(crossBranchTypes)}},
		}}
	}

	if repository == "" {
		if typeFilter == nil {
			return store.Filter{}
		}
		return typeFilter
	}
	if typeFilter == nil {
		return store.Filter{"repository": repository}
	}
	return store.Filter{"$and": []store.Filter{{"repository": repository}, typeFilter}}
}

// matchesFilter evaluates a where-filter against a document's metadata the
// same way store/filter.go compiles it to SQL, so BM25 hits (drawn from an
// unfiltered index, see Engine.bm25Index) can be re-checked against the
// exact repository/branch/type scoping a query asked for before they're
// allowed into the fused candidate set.
func matchesFilter(meta map[string]any, f store.Filter) bool {
	if len(f) == 0 {
		return true
	}
	if and, ok := f["$and"]; ok {
		for _, sub := range toFilterSlice(and) {
			if !matchesFilter(meta, sub) {
				return false
			}
		}
		return true
	}
	if or, ok := f["$or"]; ok {
		for _, sub := range toFilterSlice(or) {
			if matchesFilter(meta, sub) {
				return true
			}
		}
		return false
	}
	for key, value := range f {
		if !matchesLeaf(meta, key, value) {
			return false
		}
	}
	return true
}

func matchesLeaf(meta map[string]any, key string, value any) bool {
	actual := meta[key]
	if m, ok := value.(map[string]any); ok {
		if in, ok := m["$in"]; ok {
			list, _ := in.([]any)
			for _, v := range list {
				if fmt.Sprint(v) == fmt.Sprint(actual) {
					return true
				}
			}
			return false
		}
		return false
	}
	return fmt.Sprint(value) == fmt.Sprint(actual)
}

func toFilterSlice(raw any) []store.Filter {
	switch list := raw.(type) {
	case []store.Filter:
		return list
	case []any:
		out := make([]store.Filter, 0, len(list))
		for _, item := range list {
			switch f := item.(type) {
			case store.Filter:
				out = append(out, f)
			case map[string]any:
				out = append(out, store.Filter(f))
			}
		}
		return out
	}
	return nil
}

func splitByBranchScope(types []string) (scoped, cross []string) {
	for _, t := range types {
		if store.IsBranchScoped(t) {
			scoped = append(scoped, t)
		} else {
			cross = append(cross, t)
		}
	}
	return scoped, cross
}
