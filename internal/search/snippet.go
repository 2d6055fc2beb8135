package search

import (
	"strings"
	"unicode"
)

const ellipsis = "…"

func fold(s string) []rune {
	r := []rune(s)
	for i, c := range r {
		r[i] = unicode.ToLower(c)
	}
	return r
}

// indexFold returns the rune index of the first case-insensitive occurrence
// of needle in s, or -1.
func indexFold(s string, needle []rune) int {
	hay := fold(s)
	if len(needle) == 0 {
		return 0
	}
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j, c := range needle {
			if hay[i+j] != c {
				continue outer
			}
		}
		return i
	}
	return -1
}

// snippet returns at most width runes of s centred on the match at rune
// index idx of length n. Cut ends are marked with an ellipsis and line
// breaks are flattened to spaces.
func snippet(s string, idx, n, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return flatten(s)
	}

	start := idx - (width-n)/2
	if start < 0 {
		start = 0
	}
	end := start + width
	if end > len(r) {
		end = len(r)
		start = end - width
	}

	var sb strings.Builder
	if start > 0 {
		sb.WriteString(ellipsis)
	}
	sb.WriteString(string(r[start:end]))
	if end < len(r) {
		sb.WriteString(ellipsis)
	}
	return flatten(sb.String())
}

func flatten(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
