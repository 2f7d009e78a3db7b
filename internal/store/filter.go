package store

import (
	"fmt"
	"sort"
	"strings"
)

// Filter is the where-filter algebra from the data model: {key: value},
// {key: {"$in": [...]}}, {"$and": [...]}, {"$or": [...]}. Nesting is
// unrestricted; keys other than "$and"/"$or" are leaf equality/membership
// tests against a document's promoted columns or its metadata JSON.
type Filter map[string]any

var indexedColumns = map[string]string{
	"type":       "type",
	"repository": "repository",
	"branch":     "branch",
	"file_path":  "file_path",
}

// compile turns a Filter into a SQL boolean expression plus its bind args.
// An empty filter compiles to "1=1" (matches everything).
func compileFilter(f Filter) (string, []any, error) {
	if len(f) == 0 {
		return "1=1", nil, nil
	}
	if and, ok := f["$and"]; ok {
		return compileConjunction(and, " AND ")
	}
	if or, ok := f["$or"]; ok {
		return compileConjunction(or, " OR ")
	}
	return compileLeaves(f)
}

func compileConjunction(raw any, joiner string) (string, []any, error) {
	list, ok := raw.([]any)
	if !ok {
		// Also accept []Filter and []map[string]any for callers building
		// filters natively in Go rather than from decoded JSON.
		if fl, ok2 := raw.([]Filter); ok2 {
			list = make([]any, len(fl))
			for i, f := range fl {
				list[i] = f
			}
		} else if ml, ok2 := raw.([]map[string]any); ok2 {
			list = make([]any, len(ml))
			for i, m := range ml {
				list[i] = m
			}
		} else {
			return "", nil, fmt.Errorf("store: $and/$or requires a list, got %T", raw)
		}
	}
	if len(list) == 0 {
		return "1=1", nil, nil
	}
	var clauses []string
	var args []any
	for _, item := range list {
		sub, ok := toFilter(item)
		if !ok {
			return "", nil, fmt.Errorf("store: conjunction element must be a filter map, got %T", item)
		}
		clause, subArgs, err := compileFilter(sub)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "("+clause+")")
		args = append(args, subArgs...)
	}
	return strings.Join(clauses, joiner), args, nil
}

func toFilter(v any) (Filter, bool) {
	switch t := v.(type) {
	case Filter:
		return t, true
	case map[string]any:
		return Filter(t), true
	default:
		return nil, false
	}
}

// compileLeaves ANDs together every key in a flat {key: value, ...} map —
// a Filter with more than one leaf key is an implicit $and.
func compileLeaves(f Filter) (string, []any, error) {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic SQL for tests

	var clauses []string
	var args []any
	for _, key := range keys {
		clause, clauseArgs, err := compileLeaf(key, f[key])
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}
	if len(clauses) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

func compileLeaf(key string, value any) (string, []any, error) {
	column := columnExpr(key)

	if m, ok := value.(map[string]any); ok {
		if in, ok := m["$in"]; ok {
			list, ok := in.([]any)
			if !ok {
				return "", nil, fmt.Errorf("store: $in requires a list for key %q", key)
			}
			if len(list) == 0 {
				return "0=1", nil, nil // empty $in matches nothing
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(list)), ",")
			return fmt.Sprintf("%s IN (%s)", column, placeholders), list, nil
		}
		return "", nil, fmt.Errorf("store: unsupported operator map for key %q: %v", key, m)
	}

	return fmt.Sprintf("%s = ?", column), []any{value}, nil
}

// columnExpr maps a filter key to a promoted column when one exists,
// otherwise to a json_extract over the metadata blob.
func columnExpr(key string) string {
	if col, ok := indexedColumns[key]; ok {
		return col
	}
	return fmt.Sprintf("json_extract(metadata, '$.%s')", key)
}
