package search

import (
	"strings"

	"github.com/cortexmemory/cortex/internal/store"
)

// resolveInitiative resolves the initiative search parameter to
// (id, name): a literal "initiative:<hex>" id is used directly (its name
// is looked up for display only); anything else is looked up by name
// within repository.
func (e *Engine) resolveInitiative(repository, initiative string) (string, string) {
	if strings.HasPrefix(initiative, "initiative:") {
		res, err := e.db.Get([]string{initiative}, nil, store.Include{Metadata: true})
		name := ""
		if err == nil && len(res.IDs) > 0 {
			name, _ = res.Metadatas[0]["name"].(string)
		}
		return initiative, name
	}

	where := store.Filter{"$and": []store.Filter{
		{"type": store.KindInitiative}, {"name": initiative},
	}}
	if repository != "" {
		where = store.Filter{"$and": []store.Filter{
			{"type": store.KindInitiative}, {"name": initiative}, {"repository": repository},
		}}
	}
	res, err := e.db.Get(nil, where, store.Include{Metadata: true})
	if err != nil || len(res.IDs) == 0 {
		return "", ""
	}
	name, _ := res.Metadatas[0]["name"].(string)
	return res.IDs[0], name
}

// focusedInitiativeID returns the repository's current focus target, or
// "" if there is none.
func (e *Engine) focusedInitiativeID(repository string) string {
	res, err := e.db.Get([]string{store.FocusID(repository)}, nil, store.Include{Metadata: true})
	if err != nil || len(res.IDs) == 0 {
		return ""
	}
	id, _ := res.Metadatas[0]["initiative_id"].(string)
	return id
}
