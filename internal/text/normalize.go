package text

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// emojiRanges are removed entirely before any other rewriting.
var emojiRanges = [][2]rune{
	{0x1F600, 0x1F64F},
	{0x1F300, 0x1F5FF},
	{0x1F680, 0x1F6FF},
	{0x1F700, 0x1F77F},
	{0x1F780, 0x1F7FF},
	{0x1F800, 0x1F8FF},
	{0x1F900, 0x1F9FF},
	{0x1FA00, 0x1FA6F},
	{0x1FA70, 0x1FAFF},
	{0x2600, 0x26FF},
	{0x2700, 0x27BF},
	{0x1F1E6, 0x1F1FF},
}

var charReplacements = map[rune]rune{
	'\u2013': '-',
	'\u2011': '-',
	'\u2014': '-',
	'\u00AF': ' ',
	'_':      ' ',
	'[':      ' ',
	']':      ' ',
	'|':      ' ',
	'/':      ' ',
	'#':      ' ',
	'\u2192': ' ',
	'\u2190': ' ',
	'\u201C': '"',
	'\u201D': '"',
	'\u2018': '\'',
	'\u2019': '\'',
	'\u00B4': '\'',
	'`':      '\'',
}

var droppedRunes = map[rune]bool{
	// combining diacritics
	'\u0302': true, '\u0303': true, '\u0304': true, '\u0305': true,
	'\u0306': true, '\u0307': true, '\u0308': true, '\u030A': true,
	'\u030B': true, '\u030C': true, '\u0327': true, '\u0328': true,
	'\u0329': true, '\u032A': true, '\u032B': true, '\u032C': true,
	'\u032D': true, '\u032E': true, '\u032F': true,
	// symbols
	'\u2665': true, '\u2606': true, '\u2661': true, '\u00A9': true, '\\': true,
}

var expressionReplacer = strings.NewReplacer(
	"@", " at ",
	"e.g.,", "for example, ",
	"i.e.,", "that is, ",
)

var (
	spaceBeforePunct = regexp.MustCompile(` ([,.!?;:'])`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	terminalPunct    = regexp.MustCompile(`[.!?;:,'"\x{201C}\x{201D}\x{2018}\x{2019})\]}\x{2026}\x{3002}\x{300D}\x{300F}\x{3011}\x{3009}\x{300B}\x{203A}\x{00BB}]$`)
)

// Normalize rewrites raw input into the form the tokenizer expects.
// It never fails: empty input becomes ".".
func Normalize(s string) string {
	s = norm.NFKD.String(s)

	s = strings.Map(func(r rune) rune {
		if isEmoji(r) || droppedRunes[r] {
			return -1
		}
		if rep, ok := charReplacements[r]; ok {
			return rep
		}
		return r
	}, s)

	s = expressionReplacer.Replace(s)
	s = spaceBeforePunct.ReplaceAllString(s, "$1")

	for _, dup := range []string{`""`, `''`, "``"} {
		for strings.Contains(s, dup) {
			s = strings.ReplaceAll(s, dup, dup[:1])
		}
	}

	s = strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))

	if !terminalPunct.MatchString(s) {
		s += "."
	}

	return s
}

func isEmoji(r rune) bool {
	for _, rg := range emojiRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}

// normalizeLineEndings converts CRLF and bare CR to LF.
func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
