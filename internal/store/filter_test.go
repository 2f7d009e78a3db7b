package store

import "testing"

func TestCompileFilterEmpty(t *testing.T) {
	clause, args, err := compileFilter(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if clause != "1=1" || len(args) != 0 {
		t.Errorf("got %q %v", clause, args)
	}
}

func TestCompileFilterEquality(t *testing.T) {
	clause, args, err := compileFilter(Filter{"repository": "cortex"})
	if err != nil {
		t.Fatal(err)
	}
	if clause != "repository = ?" {
		t.Errorf("clause = %q", clause)
	}
	if len(args) != 1 || args[0] != "cortex" {
		t.Errorf("args = %v", args)
	}
}

func TestCompileFilterIn(t *testing.T) {
	clause, args, err := compileFilter(Filter{"type": map[string]any{"$in": []any{"note", "insight"}}})
	if err != nil {
		t.Fatal(err)
	}
	if clause != "type IN (?,?)" {
		t.Errorf("clause = %q", clause)
	}
	if len(args) != 2 {
		t.Errorf("args = %v", args)
	}
}

func TestCompileFilterAnd(t *testing.T) {
	f := Filter{"$and": []any{
		Filter{"repository": "cortex"},
		Filter{"branch": "main"},
	}}
	clause, args, err := compileFilter(f)
	if err != nil {
		t.Fatal(err)
	}
	want := "(repository = ?) AND (branch = ?)"
	if clause != want {
		t.Errorf("clause = %q, want %q", clause, want)
	}
	if len(args) != 2 {
		t.Errorf("args = %v", args)
	}
}

func TestCompileFilterOr(t *testing.T) {
	f := Filter{"$or": []any{
		Filter{"type": "note"},
		Filter{"type": "insight"},
	}}
	clause, _, err := compileFilter(f)
	if err != nil {
		t.Fatal(err)
	}
	want := "(type = ?) OR (type = ?)"
	if clause != want {
		t.Errorf("clause = %q, want %q", clause, want)
	}
}

func TestCompileFilterMetadataFallback(t *testing.T) {
	clause, _, err := compileFilter(Filter{"initiative_id": "initiative:abc123"})
	if err != nil {
		t.Fatal(err)
	}
	if clause != "json_extract(metadata, '$.initiative_id') = ?" {
		t.Errorf("clause = %q", clause)
	}
}

func TestCompileFilterEmptyInMatchesNothing(t *testing.T) {
	clause, _, err := compileFilter(Filter{"type": map[string]any{"$in": []any{}}})
	if err != nil {
		t.Fatal(err)
	}
	if clause != "0=1" {
		t.Errorf("clause = %q, want 0=1", clause)
	}
}

func TestCompileFilterMultipleLeavesImplicitAnd(t *testing.T) {
	clause, args, err := compileFilter(Filter{"repository": "cortex", "branch": "main"})
	if err != nil {
		t.Fatal(err)
	}
	if clause != "branch = ? AND repository = ?" {
		t.Errorf("clause = %q", clause)
	}
	if len(args) != 2 {
		t.Errorf("args = %v", args)
	}
}
