// Package tokenizer maps normalized text to model token ids using the
// code-point lookup table shipped with the model (unicode_indexer.json).
package tokenizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/example/go-supertonic/internal/config"
	"github.com/example/go-supertonic/internal/text"
)

// ErrEmptyPath is returned when LoadUnicodeIndexer is called with an empty path.
var ErrEmptyPath = errors.New("unicode indexer path must not be empty")

// UnicodeIndexer maps Unicode scalar values to token ids. Code points beyond
// the table map to 0, which is also the padding id. It is immutable after
// construction and safe for concurrent use.
type UnicodeIndexer struct {
	table []int64
}

// TokenBatch is the padded id matrix and its validity mask for one call.
type TokenBatch struct {
	// IDs has shape [B, MaxLen], right-padded with 0.
	IDs [][]int64
	// Mask has shape [B, 1, MaxLen]; Mask[i][0][j] == 1 iff j < Lengths[i].
	Mask    [][][]float32
	Lengths []int
	MaxLen  int
}

// LoadUnicodeIndexer reads the JSON id table from path.
func LoadUnicodeIndexer(path string) (*UnicodeIndexer, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: %w", config.ErrConfigLoad, ErrEmptyPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read unicode indexer: %w", config.ErrConfigLoad, err)
	}

	return NewUnicodeIndexerFromBytes(data)
}

// NewUnicodeIndexerFromBytes decodes an id table from raw JSON.
func NewUnicodeIndexerFromBytes(data []byte) (*UnicodeIndexer, error) {
	var table []int64
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("%w: decode unicode indexer: %w", config.ErrConfigLoad, err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("%w: unicode indexer table is empty", config.ErrConfigLoad)
	}

	return &UnicodeIndexer{table: table}, nil
}

// NewUnicodeIndexer wraps an in-memory table. The slice is copied.
func NewUnicodeIndexer(table []int64) *UnicodeIndexer {
	return &UnicodeIndexer{table: append([]int64(nil), table...)}
}

// Size returns the number of code points covered by the table.
func (u *UnicodeIndexer) Size() int {
	return len(u.table)
}

// EncodeOne normalizes a single text and returns its raw ids.
func (u *UnicodeIndexer) EncodeOne(s string) []int64 {
	normalized := text.Normalize(s)

	ids := make([]int64, 0, len(normalized))
	for _, r := range normalized {
		ids = append(ids, u.lookup(r))
	}

	return ids
}

// Encode normalizes every text and builds the padded batch.
func (u *UnicodeIndexer) Encode(texts []string) TokenBatch {
	raw := make([][]int64, len(texts))
	lengths := make([]int, len(texts))
	maxLen := 0
	for i, s := range texts {
		raw[i] = u.EncodeOne(s)
		lengths[i] = len(raw[i])
		maxLen = max(maxLen, lengths[i])
	}

	batch := TokenBatch{
		IDs:     make([][]int64, len(texts)),
		Mask:    make([][][]float32, len(texts)),
		Lengths: lengths,
		MaxLen:  maxLen,
	}
	for i, ids := range raw {
		row := make([]int64, maxLen)
		copy(row, ids)
		batch.IDs[i] = row

		mask := make([]float32, maxLen)
		for j := range lengths[i] {
			mask[j] = 1
		}
		batch.Mask[i] = [][]float32{mask}
	}

	return batch
}

func (u *UnicodeIndexer) lookup(r rune) int64 {
	if r < 0 || int(r) >= len(u.table) {
		return 0
	}
	return u.table[r]
}

// Size returns the batch size.
func (b TokenBatch) Size() int {
	return len(b.IDs)
}

// FlatIDs returns the id matrix flattened row-major with shape [B, MaxLen].
func (b TokenBatch) FlatIDs() ([]int64, []int64) {
	out := make([]int64, 0, len(b.IDs)*b.MaxLen)
	for _, row := range b.IDs {
		out = append(out, row...)
	}
	return out, []int64{int64(len(b.IDs)), int64(b.MaxLen)}
}

// FlatMask returns the mask flattened row-major with shape [B, 1, MaxLen].
func (b TokenBatch) FlatMask() ([]float32, []int64) {
	out := make([]float32, 0, len(b.Mask)*b.MaxLen)
	for _, row := range b.Mask {
		out = append(out, row[0]...)
	}
	return out, []int64{int64(len(b.Mask)), 1, int64(b.MaxLen)}
}
