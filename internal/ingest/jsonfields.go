package ingest

import "encoding/json"

// decodeJSONStringArray reads a metadata value stored as a JSON-encoded
// string array (the representation store.Upsert uses for any slice-typed
// metadata field) back into a []string. Any other shape yields nil.
func decodeJSONStringArray(v any) []string {
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
