package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/example/go-supertonic/internal/config"
)

// asciiTable maps every code point below 128 to itself + 1000 so ids are
// easy to read in assertions.
func asciiTable() []int64 {
	table := make([]int64, 128)
	for i := range table {
		table[i] = int64(1000 + i)
	}
	return table
}

func TestLoadUnicodeIndexer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.UnicodeIndexerFile)
	if err := os.WriteFile(path, []byte(`[0, 5, 7, 9]`), 0o644); err != nil {
		t.Fatalf("write indexer: %v", err)
	}

	u, err := LoadUnicodeIndexer(path)
	if err != nil {
		t.Fatalf("LoadUnicodeIndexer: %v", err)
	}
	if u.Size() != 4 {
		t.Errorf("Size() = %d; want 4", u.Size())
	}
}

func TestLoadUnicodeIndexer_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	empty := filepath.Join(dir, "empty.json")
	_ = os.WriteFile(bad, []byte(`{"not": "a list"}`), 0o644)
	_ = os.WriteFile(empty, []byte(`[]`), 0o644)

	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing file", filepath.Join(dir, "missing.json")},
		{"malformed json", bad},
		{"empty table", empty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadUnicodeIndexer(tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, config.ErrConfigLoad) {
				t.Errorf("error = %v; want wrapped ErrConfigLoad", err)
			}
		})
	}

	if _, err := LoadUnicodeIndexer(""); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("empty path error = %v; want ErrEmptyPath", err)
	}
}

func TestEncodeOne(t *testing.T) {
	u := NewUnicodeIndexer(asciiTable())

	got := u.EncodeOne("Hi")
	// Normalize appends the terminal period.
	want := []int64{1000 + 'H', 1000 + 'i', 1000 + '.'}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EncodeOne(%q) = %v; want %v", "Hi", got, want)
	}
}

func TestEncodeOne_OutOfRangeMapsToZero(t *testing.T) {
	u := NewUnicodeIndexer(asciiTable())

	// U+00E9 survives NFKD as 'e' plus U+0301, which is not in the dropped
	// diacritics set and is beyond the table.
	got := u.EncodeOne("é!")
	want := []int64{1000 + 'e', 0, 1000 + '!'}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EncodeOne = %v; want %v", got, want)
	}
}

func TestEncode_PaddingAndMask(t *testing.T) {
	u := NewUnicodeIndexer(asciiTable())

	batch := u.Encode([]string{"a", "abc"})

	if batch.Size() != 2 {
		t.Fatalf("Size() = %d; want 2", batch.Size())
	}
	// "a." and "abc."
	if batch.MaxLen != 4 {
		t.Fatalf("MaxLen = %d; want 4", batch.MaxLen)
	}
	if !reflect.DeepEqual(batch.Lengths, []int{2, 4}) {
		t.Errorf("Lengths = %v; want [2 4]", batch.Lengths)
	}

	wantRow0 := []int64{1000 + 'a', 1000 + '.', 0, 0}
	if !reflect.DeepEqual(batch.IDs[0], wantRow0) {
		t.Errorf("IDs[0] = %v; want %v", batch.IDs[0], wantRow0)
	}

	wantMask0 := []float32{1, 1, 0, 0}
	if !reflect.DeepEqual(batch.Mask[0][0], wantMask0) {
		t.Errorf("Mask[0][0] = %v; want %v", batch.Mask[0][0], wantMask0)
	}
	wantMask1 := []float32{1, 1, 1, 1}
	if !reflect.DeepEqual(batch.Mask[1][0], wantMask1) {
		t.Errorf("Mask[1][0] = %v; want %v", batch.Mask[1][0], wantMask1)
	}
}

func TestTokenBatch_Flatten(t *testing.T) {
	u := NewUnicodeIndexer(asciiTable())
	batch := u.Encode([]string{"a", "ab"})

	ids, idShape := batch.FlatIDs()
	if !reflect.DeepEqual(idShape, []int64{2, 3}) {
		t.Errorf("FlatIDs shape = %v; want [2 3]", idShape)
	}
	if len(ids) != 6 {
		t.Fatalf("len(FlatIDs) = %d; want 6", len(ids))
	}
	if ids[2] != 0 || ids[3] != 1000+'a' {
		t.Errorf("FlatIDs = %v; want row-major padded layout", ids)
	}

	mask, maskShape := batch.FlatMask()
	if !reflect.DeepEqual(maskShape, []int64{2, 1, 3}) {
		t.Errorf("FlatMask shape = %v; want [2 1 3]", maskShape)
	}
	want := []float32{1, 1, 0, 1, 1, 1}
	if !reflect.DeepEqual(mask, want) {
		t.Errorf("FlatMask = %v; want %v", mask, want)
	}
}

func TestNewUnicodeIndexer_CopiesTable(t *testing.T) {
	table := asciiTable()
	u := NewUnicodeIndexer(table)
	table['a'] = -1

	if got := u.EncodeOne("a")[0]; got != 1000+'a' {
		t.Errorf("EncodeOne after caller mutation = %d; want %d", got, 1000+'a')
	}
}
