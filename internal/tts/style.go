package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/example/go-supertonic/internal/onnx"
)

// ErrMalformedStyle is returned when a voice style file cannot be decoded or
// its tensors disagree with their declared dims.
var ErrMalformedStyle = errors.New("malformed voice style")

// Style is the pair of speaker-conditioning tensors for a batch of B rows.
// TTL feeds the text encoder and vector field; DP feeds the duration
// predictor. A Style is read-only once built and may be shared across calls.
type Style struct {
	TTL *onnx.Tensor // [B, ttl1, ttl2]
	DP  *onnx.Tensor // [B, dp1, dp2]

	// Digest is the hex sha256 of the source documents. It changes whenever
	// a style file is rewritten.
	Digest string
}

type styleFile struct {
	StyleTTL styleTensor `json:"style_ttl"`
	StyleDP  styleTensor `json:"style_dp"`
}

type styleTensor struct {
	Data [][][]float32 `json:"data"`
	Dims []int64       `json:"dims"`
	Type string        `json:"type"`
}

// LoadStyle reads one style file per batch row and stacks them. The first
// file fixes the per-row dims; every other file must match.
func LoadStyle(paths ...string) (*Style, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no style files given", ErrMalformedStyle)
	}

	h := sha256.New()
	files := make([]styleFile, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read voice style %s: %w", p, err)
		}
		f, err := parseStyleFile(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		files[i] = f
		h.Write(data)
	}

	st, err := stackStyles(files)
	if err != nil {
		return nil, err
	}
	st.Digest = hex.EncodeToString(h.Sum(nil))
	return st, nil
}

// ParseStyle decodes a single style document into a batch-1 Style.
func ParseStyle(data []byte) (*Style, error) {
	f, err := parseStyleFile(data)
	if err != nil {
		return nil, err
	}
	st, err := stackStyles([]styleFile{f})
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	st.Digest = hex.EncodeToString(sum[:])
	return st, nil
}

func parseStyleFile(data []byte) (styleFile, error) {
	var f styleFile
	if err := json.Unmarshal(data, &f); err != nil {
		return styleFile{}, fmt.Errorf("%w: %w", ErrMalformedStyle, err)
	}
	if err := f.StyleTTL.validate("style_ttl"); err != nil {
		return styleFile{}, err
	}
	if err := f.StyleDP.validate("style_dp"); err != nil {
		return styleFile{}, err
	}
	return f, nil
}

func (s styleTensor) validate(name string) error {
	if len(s.Dims) != 3 {
		return fmt.Errorf("%w: %s dims %v, want 3 dims", ErrMalformedStyle, name, s.Dims)
	}
	for _, d := range s.Dims {
		if d <= 0 {
			return fmt.Errorf("%w: %s dims %v must be positive", ErrMalformedStyle, name, s.Dims)
		}
	}

	want := s.Dims[0] * s.Dims[1] * s.Dims[2]
	if got := int64(s.count()); got != want {
		return fmt.Errorf("%w: %s has %d values, dims %v need %d", ErrMalformedStyle, name, got, s.Dims, want)
	}

	return nil
}

func (s styleTensor) count() int {
	n := 0
	for _, batch := range s.Data {
		for _, row := range batch {
			n += len(row)
		}
	}
	return n
}

func (s styleTensor) appendFlat(dst []float32) []float32 {
	for _, batch := range s.Data {
		for _, row := range batch {
			dst = append(dst, row...)
		}
	}
	return dst
}

func stackStyles(files []styleFile) (*Style, error) {
	ttlDims := files[0].StyleTTL.Dims
	dpDims := files[0].StyleDP.Dims

	var ttl, dp []float32
	for i, f := range files {
		if !slices.Equal(f.StyleTTL.Dims, ttlDims) || !slices.Equal(f.StyleDP.Dims, dpDims) {
			return nil, fmt.Errorf("%w: style %d dims ttl=%v dp=%v differ from ttl=%v dp=%v",
				ErrMalformedStyle, i, f.StyleTTL.Dims, f.StyleDP.Dims, ttlDims, dpDims)
		}
		ttl = f.StyleTTL.appendFlat(ttl)
		dp = f.StyleDP.appendFlat(dp)
	}

	rows := int64(len(files)) * ttlDims[0]
	ttlT, err := onnx.WrapFloat32(ttl, []int64{rows, ttlDims[1], ttlDims[2]})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedStyle, err)
	}
	dpT, err := onnx.WrapFloat32(dp, []int64{int64(len(files)) * dpDims[0], dpDims[1], dpDims[2]})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedStyle, err)
	}

	return &Style{TTL: ttlT, DP: dpT}, nil
}

// Batch returns the number of rows the style conditions.
func (s *Style) Batch() int {
	if s == nil || s.TTL == nil {
		return 0
	}
	return int(s.TTL.Dim(0))
}

// Repeat broadcasts a batch-1 style to n rows. A style that already has n
// rows is returned unchanged.
func (s *Style) Repeat(n int) (*Style, error) {
	b := s.Batch()
	switch {
	case b == n:
		return s, nil
	case b != 1:
		return nil, fmt.Errorf("%w: style has %d rows, cannot condition a batch of %d", ErrInvalidInput, b, n)
	}

	ttl, err := repeatRows(s.TTL, n)
	if err != nil {
		return nil, err
	}
	dp, err := repeatRows(s.DP, n)
	if err != nil {
		return nil, err
	}
	return &Style{TTL: ttl, DP: dp, Digest: s.Digest}, nil
}

func repeatRows(t *onnx.Tensor, n int) (*onnx.Tensor, error) {
	row, err := t.Float32s()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedStyle, err)
	}

	out := make([]float32, 0, len(row)*n)
	for range n {
		out = append(out, row...)
	}

	shape := t.Shape()
	shape[0] = int64(n)
	return onnx.WrapFloat32(out, shape)
}
