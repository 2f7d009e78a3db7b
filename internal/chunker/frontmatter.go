package chunker

import (
	"strings"

	"github.com/adrg/frontmatter"
)

// DocMeta holds frontmatter fields recognized on markdown-like documents
// (notes ingested as plain files, not via the memory tools).
type DocMeta struct {
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
}

// StripFrontmatter removes a leading YAML frontmatter block, if any, and
// returns the remaining body alongside whatever metadata was found. Content
// with no frontmatter block is returned unchanged.
func StripFrontmatter(content string) (string, DocMeta) {
	var meta DocMeta
	body, err := frontmatter.Parse(strings.NewReader(content), &meta)
	if err != nil {
		return content, DocMeta{}
	}
	return string(body), meta
}
