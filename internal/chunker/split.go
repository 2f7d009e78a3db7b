package chunker

import "strings"

const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
)

// languageSeparators orders syntactic boundaries from coarsest to finest.
// A language not listed here uses the generic fallback order.
var languageSeparators = map[Language][]string{
	Python:   {"\nclass ", "\ndef ", "\n\tdef ", "\n\n", "\n", " ", ""},
	Go:       {"\nfunc ", "\ntype ", "\n\n", "\n", " ", ""},
	Rust:     {"\nfn ", "\nimpl ", "\nstruct ", "\nenum ", "\n\n", "\n", " ", ""},
	Java:     {"\nclass ", "\npublic ", "\nprivate ", "\nprotected ", "\n\n", "\n", " ", ""},
	Kotlin:   {"\nclass ", "\nfun ", "\n\n", "\n", " ", ""},
	JS:       {"\nfunction ", "\nclass ", "\nconst ", "\nlet ", "\nvar ", "\n\n", "\n", " ", ""},
	TS:       {"\nfunction ", "\nclass ", "\nconst ", "\nlet ", "\nvar ", "\ninterface ", "\n\n", "\n", " ", ""},
	Ruby:     {"\nclass ", "\nmodule ", "\ndef ", "\n\n", "\n", " ", ""},
	C:        {"\nstruct ", "\n\n", "\n", " ", ""},
	CPP:      {"\nclass ", "\nstruct ", "\n\n", "\n", " ", ""},
	Markdown: {"\n## ", "\n### ", "\n\n", "\n", " ", ""},
}

var genericSeparators = []string{"\n\n", "\n", " ", ""}

// Chunk splits content into overlapping pieces of at most chunkSize runes,
// preferring to break at the coarsest separator available at each level
// (recursive character splitting). Adjacent chunks overlap by at most
// chunkOverlap runes so scope context isn't lost at a boundary.
//
// Empty or whitespace-only content yields no chunks.
func Chunk(content string, lang Language, chunkSize, chunkOverlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	seps, ok := languageSeparators[lang]
	if !ok {
		seps = genericSeparators
	}

	pieces := recursiveSplit(content, seps, chunkSize)
	return mergeWithOverlap(pieces, chunkSize, chunkOverlap)
}

// recursiveSplit breaks text at the first separator in seps that actually
// appears, recursing into any resulting piece still over chunkSize with the
// remaining (finer) separators.
func recursiveSplit(text string, seps []string, chunkSize int) []string {
	if len([]rune(text)) <= chunkSize || len(seps) == 0 {
		return []string{text}
	}

	sep := seps[0]
	rest := seps[1:]

	var parts []string
	if sep == "" {
		parts = splitByRune(text, chunkSize)
	} else if strings.Contains(text, sep) {
		raw := strings.Split(text, sep)
		for i, p := range raw {
			if i > 0 {
				p = sep + p
			}
			if p != "" {
				parts = append(parts, p)
			}
		}
	} else {
		return recursiveSplit(text, rest, chunkSize)
	}

	var out []string
	for _, p := range parts {
		if len([]rune(p)) > chunkSize {
			out = append(out, recursiveSplit(p, rest, chunkSize)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

func splitByRune(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// mergeWithOverlap packs consecutive pieces into chunks bounded by
// chunkSize, carrying up to chunkOverlap runes of trailing context from
// the previous chunk into the next so a split never fully discards
// context at its boundary.
func mergeWithOverlap(pieces []string, chunkSize, chunkOverlap int) []string {
	if len(pieces) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, current.String())
		current.Reset()
		currentLen = 0
	}

	for _, piece := range pieces {
		pieceLen := len([]rune(piece))
		if currentLen > 0 && currentLen+pieceLen > chunkSize {
			prev := chunks
			flush()
			if len(prev) > 0 && chunkOverlap > 0 {
				tail := overlapTail(prev[len(prev)-1], chunkOverlap)
				current.WriteString(tail)
				currentLen = len([]rune(tail))
			}
		}
		current.WriteString(piece)
		currentLen += pieceLen
	}
	flush()

	var nonEmpty []string
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	return nonEmpty
}

func overlapTail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
