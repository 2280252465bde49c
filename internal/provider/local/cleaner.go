package local

import (
	"strings"
)

// CleanName performs basic cleaning on an extracted title fragment.
func CleanName(name string) string {
	if name == "" {
		return ""
	}

	result := emptyBracketsRe.ReplaceAllString(name, "")
	result = strings.Join(strings.Fields(result), " ")

	// Drop leading/trailing separator characters left behind by removed tokens
	result = strings.Trim(result, "-_–—|:, ")

	return strings.TrimSpace(result)
}

// stripBrackets removes [..] and {..} segments from name and returns their
// contents separately so they can still be scanned for release tags.
func stripBrackets(name string) (string, []string) {
	var inner []string
	out := bracketRe.ReplaceAllStringFunc(name, func(seg string) string {
		inner = append(inner, seg[1:len(seg)-1])
		return " "
	})
	return out, inner
}

// stripEdition removes edition annotations from name and returns the label of
// the first one found.
func stripEdition(name string) (string, string) {
	m := editionRe.FindString(name)
	if m == "" {
		return name, ""
	}
	return editionRe.ReplaceAllString(name, " "), editionLabel(m)
}

// tokenize splits name on the common separator characters.
func tokenize(name string) []string {
	name = strings.NewReplacer("(", " ", ")", " ", "<", " ", ">", " ").Replace(name)
	parts := tokenSeparatorRe.Split(name, -1)
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}
