// Package textutil compares short texts such as topic titles.
//
// Titles are folded to lowercase ASCII-compatible tokens (accents stripped,
// punctuation dropped, tokens shorter than three runes ignored) and compared
// as term-frequency vectors. A TitleIndex weights terms by how rare they are
// across the titles it holds, so words every title shares contribute little
// to a match.
package textutil
