package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxChunkLen is the chunk length used when Chunk is called with maxLen <= 0.
const DefaultMaxChunkLen = 300

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sentenceBreak  = regexp.MustCompile(`[.!?]\s+`)
)

// abbreviations never end a sentence even when followed by whitespace.
var abbreviations = []string{
	"Dr.", "Mr.", "Mrs.", "Ms.", "Prof.", "Sr.", "Jr.", "St.", "Ave.", "Rd.",
	"Blvd.", "Dept.", "Inc.", "Ltd.", "Co.", "Corp.", "etc.", "vs.", "i.e.",
	"e.g.", "Ph.D.",
}

// Chunk splits text into synthesis-sized pieces of at most maxLen characters
// (Unicode scalar values). Paragraph boundaries always start a new chunk;
// oversized paragraphs fall back to sentences, then comma clauses, then words.
// Empty or whitespace-only input yields a single empty chunk.
func Chunk(s string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxChunkLen
	}

	s = strings.TrimSpace(normalizeLineEndings(s))
	if s == "" {
		return []string{""}
	}

	var chunks []string
	for _, para := range paragraphBreak.Split(s, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) <= maxLen {
			chunks = append(chunks, para)
			continue
		}
		chunks = append(chunks, chunkParagraph(para, maxLen)...)
	}

	if len(chunks) == 0 {
		return []string{""}
	}
	return chunks
}

func chunkParagraph(para string, maxLen int) []string {
	p := newPacker(maxLen, " ")
	for _, sentence := range SplitSentences(para) {
		if runeLen(sentence) > maxLen {
			p.emit(chunkSentence(sentence, maxLen)...)
			continue
		}
		p.add(sentence)
	}
	return p.finish()
}

// chunkSentence splits on commas and rejoins the packed clauses with ", ".
// A comma at a chunk boundary is dropped.
func chunkSentence(sentence string, maxLen int) []string {
	p := newPacker(maxLen, ", ")
	for _, part := range strings.Split(sentence, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if runeLen(part) > maxLen {
			p.emit(chunkWords(part, maxLen)...)
			continue
		}
		p.add(part)
	}
	return p.finish()
}

func chunkWords(part string, maxLen int) []string {
	p := newPacker(maxLen, " ")
	for _, word := range strings.Fields(part) {
		// A word longer than maxLen cannot be split further; it goes out whole.
		if runeLen(word) > maxLen {
			p.emit(word)
			continue
		}
		p.add(word)
	}
	return p.finish()
}

// SplitSentences splits a paragraph after '.', '!' or '?' followed by
// whitespace, except where the text before the break ends in a known
// abbreviation.
func SplitSentences(para string) []string {
	var out []string
	start := 0
	for _, m := range sentenceBreak.FindAllStringIndex(para, -1) {
		end := m[0] + 1
		if endsWithAbbreviation(para[:end]) {
			continue
		}
		if s := strings.TrimSpace(para[start:end]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if s := strings.TrimSpace(para[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func endsWithAbbreviation(s string) bool {
	for _, abbr := range abbreviations {
		if strings.HasSuffix(s, abbr) {
			return true
		}
	}
	return false
}

// packer greedily joins units with sep while the result stays within maxLen.
type packer struct {
	maxLen int
	sep    string
	sepLen int
	cur    strings.Builder
	curLen int
	out    []string
}

func newPacker(maxLen int, sep string) *packer {
	return &packer{maxLen: maxLen, sep: sep, sepLen: runeLen(sep)}
}

func (p *packer) add(unit string) {
	n := runeLen(unit)
	if p.curLen > 0 && p.curLen+p.sepLen+n > p.maxLen {
		p.flush()
	}
	if p.curLen > 0 {
		p.cur.WriteString(p.sep)
		p.curLen += p.sepLen
	}
	p.cur.WriteString(unit)
	p.curLen += n
}

// emit flushes pending text first so output order matches input order.
func (p *packer) emit(chunks ...string) {
	p.flush()
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			p.out = append(p.out, c)
		}
	}
}

func (p *packer) flush() {
	if s := strings.TrimSpace(p.cur.String()); s != "" {
		p.out = append(p.out, s)
	}
	p.cur.Reset()
	p.curLen = 0
}

func (p *packer) finish() []string {
	p.flush()
	return p.out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// SanitizeFilename truncates s to maxLen characters and replaces everything
// but ASCII letters and digits with '_'.
func SanitizeFilename(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 20
	}
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	for i, r := range runes {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			runes[i] = '_'
		}
	}
	return string(runes)
}
