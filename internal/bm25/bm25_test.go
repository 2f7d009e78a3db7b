package bm25

import "testing"

func TestTokenizeCamelCaseAndSnakeCase(t *testing.T) {
	cases := map[string][]string{
		"calculateTotal":  {"calculate", "total"},
		"calculate_total": {"calculate", "total"},
		"HTTPServer":      {"http", "server"},
	}
	for input, want := range cases {
		got := Tokenize(input)
		if !equalSlices(got, want) {
			t.Errorf("Tokenize(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestTokenizeSplitsPunctuationAndLowercases(t *testing.T) {
	got := Tokenize("Hello, World! (test)")
	want := []string{"hello", "world", "test"}
	if !equalSlices(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSearchEmptyIndexReturnsEmpty(t *testing.T) {
	idx := Build(nil)
	if res := idx.Search("anything", 10); res != nil {
		t.Errorf("expected nil, got %v", res)
	}
}

func TestSearchRanksExactMatchHigher(t *testing.T) {
	idx := Build([]Doc{
		{ID: "a", Text: "authentication service handles JWT tokens"},
		{ID: "b", Text: "completely unrelated document about fruit"},
	})
	results := idx.Search("authentication JWT", 10)
	if len(results) == 0 || results[0].ID != "a" {
		t.Fatalf("expected doc a to rank first, got %v", results)
	}
}

func TestSearchEmptyQueryReturnsNil(t *testing.T) {
	idx := Build([]Doc{{ID: "a", Text: "hello world"}})
	if res := idx.Search("   ", 10); res != nil {
		t.Errorf("expected nil for whitespace-only query, got %v", res)
	}
}

func TestSearchRespectsTopK(t *testing.T) {
	idx := Build([]Doc{
		{ID: "a", Text: "go golang service"},
		{ID: "b", Text: "go golang handler"},
		{ID: "c", Text: "go golang worker"},
	})
	results := idx.Search("go", 2)
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}
