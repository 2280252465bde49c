package planner

import (
	"strings"
	"unicode/utf8"
)

// substitutions maps every character that is unsafe in a path component to a
// visually similar safe one. The table is a bijection so Unsanitize can
// recover the canonical title exactly.
var substitutions = map[rune]rune{
	'<':  '＜',
	'>':  '＞',
	':':  '꞉',
	'"':  '＂',
	'/':  '／',
	'\\': '＼',
	'|':  '｜',
	'?':  '？',
	'*':  '＊',
}

var reverseSubstitutions = func() map[rune]rune {
	m := make(map[rune]rune, len(substitutions))
	for k, v := range substitutions {
		m[v] = k
	}
	return m
}()

// Sanitize replaces unsafe characters in a single path component. Control
// characters become their Unicode control pictures. Nothing is dropped.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 0x20:
			b.WriteRune(0x2400 + r)
		case r == 0x7f:
			b.WriteRune(0x2421)
		default:
			if sub, ok := substitutions[r]; ok {
				b.WriteRune(sub)
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Unsanitize inverts Sanitize.
func Unsanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 0x2400 && r < 0x2420:
			b.WriteRune(r - 0x2400)
		case r == 0x2421:
			b.WriteRune(0x7f)
		default:
			if orig, ok := reverseSubstitutions[r]; ok {
				b.WriteRune(orig)
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dotLeader stands in for a dot that would end a path component. Windows
// strips trailing dots, so two titles could otherwise share one folder.
const dotLeader = '․'

// fullwidthOffset maps printable ASCII onto the fullwidth forms block.
const fullwidthOffset = 0xFEE0

// reservedNames are device names Windows refuses as the part of a file or
// directory name before its first dot.
var reservedNames = func() map[string]bool {
	m := map[string]bool{"CON": true, "PRN": true, "AUX": true, "NUL": true}
	for _, prefix := range []string{"COM", "LPT"} {
		for n := '1'; n <= '9'; n++ {
			m[prefix+string(n)] = true
		}
	}
	return m
}()

// unfinishComponent inverts finishComponent.
func unfinishComponent(name string) string {
	if stem, rest := splitStem(name); stem != "" {
		r, size := utf8.DecodeLastRuneInString(stem)
		if plain := r - fullwidthOffset; plain > ' ' && plain < 0x7f {
			if cand := stem[:len(stem)-size] + string(plain); reservedNames[strings.ToUpper(cand)] {
				name = cand + rest
			}
		}
	}
	if last, size := utf8.DecodeLastRuneInString(name); last == dotLeader {
		name = name[:len(name)-size] + "."
	}
	return name
}

// finishComponent applies the whole-component rules to an already sanitized
// name: a trailing dot becomes a one dot leader and a reserved device name has
// its last character replaced by the fullwidth form.
func finishComponent(name string) string {
	if strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".") + string(dotLeader)
	}
	stem, rest := splitStem(name)
	if reservedNames[strings.ToUpper(stem)] {
		r, size := utf8.DecodeLastRuneInString(stem)
		name = stem[:len(stem)-size] + string(r+fullwidthOffset) + rest
	}
	return name
}

func splitStem(name string) (string, string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i:]
	}
	return name, ""
}

// truncateRunes shortens s to at most n runes, never splitting a rune, and
// trims the spaces and dots a cut can leave behind.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return strings.TrimRight(s[:i], " .")
		}
		count++
	}
	return s
}
