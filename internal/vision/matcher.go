package vision

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

// Reference is one labelled glyph bitmap.
type Reference struct {
	Label string
	Glyph gocv.Mat
}

// ReferenceSet is an ordered, read-only collection of reference glyphs.
// Order decides ties in Match.
type ReferenceSet struct {
	refs []Reference
	size image.Point
}

// NewReferenceSet takes ownership of the glyphs. Labels must be distinct and
// every glyph must have the same dimensions.
func NewReferenceSet(refs []Reference) (*ReferenceSet, error) {
	if len(refs) == 0 {
		return nil, apperrors.New(apperrors.CodeAssetLoad, "reference set is empty")
	}
	seen := make(map[string]struct{}, len(refs))
	size := image.Pt(refs[0].Glyph.Cols(), refs[0].Glyph.Rows())
	for _, r := range refs {
		if r.Glyph.Empty() {
			return nil, apperrors.Newf(apperrors.CodeAssetLoad, "reference %q is empty", r.Label)
		}
		if _, dup := seen[r.Label]; dup {
			return nil, apperrors.Newf(apperrors.CodeAssetLoad, "duplicate reference label %q", r.Label)
		}
		seen[r.Label] = struct{}{}
		if got := image.Pt(r.Glyph.Cols(), r.Glyph.Rows()); got != size {
			return nil, apperrors.Newf(apperrors.CodeAssetLoad, "reference %q is %v, want %v", r.Label, got, size)
		}
	}
	return &ReferenceSet{refs: refs, size: size}, nil
}

// LoadReferences reads <label>.png files from dir in name order and
// binarizes them the same way glyphs are binarized.
func LoadReferences(dir string, cfg Config) (*ReferenceSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeAssetLoad, "read reference dir %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	refs := make([]Reference, 0, len(names))
	closeAll := func() {
		for _, r := range refs {
			r.Glyph.Close()
		}
	}
	for _, name := range names {
		img := gocv.IMRead(filepath.Join(dir, name), gocv.IMReadColor)
		if img.Empty() {
			img.Close()
			closeAll()
			return nil, apperrors.Newf(apperrors.CodeAssetLoad, "cannot decode %s", name)
		}
		bin := binarize(img, cfg.DigitThreshold)
		img.Close()
		refs = append(refs, Reference{Label: strings.TrimSuffix(name, filepath.Ext(name)), Glyph: bin})
	}

	set, err := NewReferenceSet(refs)
	if err != nil {
		closeAll()
		return nil, apperrors.Wrapf(err, apperrors.CodeAssetLoad, "load references from %s", dir)
	}
	return set, nil
}

// Len returns the number of references.
func (s *ReferenceSet) Len() int { return len(s.refs) }

// Size returns the common glyph dimensions.
func (s *ReferenceSet) Size() image.Point { return s.size }

// Labels returns labels in match order.
func (s *ReferenceSet) Labels() []string {
	out := make([]string, len(s.refs))
	for i, r := range s.refs {
		out[i] = r.Label
	}
	return out
}

// Close releases the glyph bitmaps.
func (s *ReferenceSet) Close() {
	for _, r := range s.refs {
		r.Glyph.Close()
	}
}

// Match returns the label whose reference correlates best with glyph, and
// that correlation. An empty glyph, or one with no finite score against any
// reference, yields "".
func Match(glyph gocv.Mat, refs *ReferenceSet) (string, float32) {
	if refs == nil || glyph.Empty() || glyph.Rows() == 0 || glyph.Cols() == 0 {
		return "", 0
	}

	src := glyph
	if glyph.Channels() != 1 {
		src = toGray(glyph)
		defer src.Close()
	}

	resized := gocv.NewMat()
	defer resized.Close()
	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	best, bestScore := "", float32(math.Inf(-1))
	for _, ref := range refs.refs {
		gocv.Resize(src, &resized, image.Pt(ref.Glyph.Cols(), ref.Glyph.Rows()), 0, 0, gocv.InterpolationLinear)
		gocv.MatchTemplate(resized, ref.Glyph, &result, gocv.TmCcoeffNormed, mask)
		_, score, _, _ := gocv.MinMaxLoc(result)
		if math.IsNaN(float64(score)) || math.IsInf(float64(score), 0) {
			continue
		}
		if score > bestScore {
			best, bestScore = ref.Label, score
		}
	}
	if best == "" {
		return "", 0
	}
	return best, bestScore
}
