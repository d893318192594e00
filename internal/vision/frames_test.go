package vision

import (
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"gocv.io/x/gocv"
)

var (
	black   = color.RGBA{}
	gray    = color.RGBA{R: 128, G: 128, B: 128}
	white   = color.RGBA{R: 255, G: 255, B: 255}
	cabinet = color.RGBA{R: 60, G: 60, B: 60}
	red     = color.RGBA{R: 255}
)

// Synthetic frame layout. The playfield hole sits inside a gray cabinet
// border; coordinates below are relative to the playfield crop.
var (
	cabinetRect   = image.Rect(20, 20, 1260, 1180)
	playfieldRect = image.Rect(40, 50, 1240, 1150)
	dividerRect   = image.Rect(580, 300, 620, 1100)
	pauseRect     = image.Rect(590, 700, 610, 720)
	nextLeftRect  = image.Rect(50, 100, 90, 140)
	nextRightRect = image.Rect(1110, 100, 1150, 140)
	bannerLeft    = image.Rect(100, 350, 400, 450)
	bannerRight   = image.Rect(800, 350, 1100, 450)
)

// Score panel furniture, drawn when frameOpts.glyphs is set. The center
// block reaches the lowest panel row so the sides split at its edges; the
// separators sit on each side's inner edge column.
var (
	panelCenter   = image.Rect(560, 0, 640, 280)
	panelLeftBar  = image.Rect(20, 0, 25, 280)
	panelRightBar = image.Rect(1175, 0, 1180, 280)
	panelSeps     = []image.Rectangle{
		image.Rect(550, 95, 560, 106), image.Rect(550, 195, 560, 206),
		image.Rect(640, 95, 650, 106), image.Rect(640, 195, 650, 206),
	}
	scoreLeftAt  = image.Pt(40, 30)
	scoreRightAt = image.Pt(680, 30)
)

type frameOpts struct {
	twoPlayer bool
	paused    bool
	p1Over    bool
	p2Over    bool

	// glyphs from digitRefs; p1Score and p2Score are drawn with them
	glyphs  map[string]gocv.Mat
	p1Score string
	p2Score string
}

func newMat(t *testing.T, rows, cols int, mt gocv.MatType) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, mt)
	t.Cleanup(func() { m.Close() })
	return m
}

// fill paints exactly the pixels of r, half-open like image.Rectangle.
func fill(m *gocv.Mat, r image.Rectangle, c color.RGBA) {
	roi, ok := region(*m, r)
	if !ok {
		return
	}
	defer roi.Close()
	roi.SetTo(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0))
}

// banner draws a red block with two holes, the shape the game-over detector
// looks for.
func banner(m *gocv.Mat, r image.Rectangle) {
	fill(m, r, red)
	w, h := r.Dx(), r.Dy()
	fill(m, image.Rect(r.Min.X+w/6, r.Min.Y+h/3, r.Min.X+2*w/6, r.Min.Y+2*h/3), black)
	fill(m, image.Rect(r.Min.X+4*w/6, r.Min.Y+h/3, r.Min.X+5*w/6, r.Min.Y+2*h/3), black)
}

// newGameFrame renders a 1280x1200 BGR frame with a playfield and divider.
func newGameFrame(t *testing.T, o frameOpts) gocv.Mat {
	t.Helper()
	m := newMat(t, 1200, 1280, gocv.MatTypeCV8UC3)
	fill(&m, cabinetRect, cabinet)
	fill(&m, playfieldRect, black)

	off := playfieldRect.Min
	fill(&m, dividerRect.Add(off), gray)
	if o.paused {
		fill(&m, pauseRect.Add(off), red)
	}
	if o.twoPlayer {
		fill(&m, nextLeftRect.Add(off), red)
		fill(&m, nextRightRect.Add(off), red)
	}
	if o.p1Over {
		banner(&m, bannerLeft.Add(off))
	}
	if o.p2Over {
		banner(&m, bannerRight.Add(off))
	}
	if o.glyphs != nil {
		scorePanel(t, &m, off, o)
	}
	return m
}

// scorePanel draws both side panels of the score area and the scores in
// their top bands.
func scorePanel(t *testing.T, m *gocv.Mat, off image.Point, o frameOpts) {
	t.Helper()
	for _, r := range append([]image.Rectangle{panelCenter, panelLeftBar, panelRightBar}, panelSeps...) {
		fill(m, r.Add(off), gray)
	}
	drawDigits(t, *m, o.glyphs, o.p1Score, scoreLeftAt.Add(off))
	drawDigits(t, *m, o.glyphs, o.p2Score, scoreRightAt.Add(off))
}

// drawDigits draws the glyph of each digit of s left to right from at.
func drawDigits(t *testing.T, dst gocv.Mat, glyphs map[string]gocv.Mat, s string, at image.Point) {
	t.Helper()
	for i, d := range s {
		g, ok := glyphs[string(d)]
		if !ok {
			t.Fatalf("no glyph for %q", d)
		}
		bgr := gocv.NewMat()
		gocv.CvtColor(g, &bgr, gocv.ColorGrayToBGR)
		p := at.Add(image.Pt(i*40, 0))
		roi := dst.Region(image.Rect(p.X, p.Y, p.X+g.Cols(), p.Y+g.Rows()))
		bgr.CopyTo(&roi)
		roi.Close()
		bgr.Close()
	}
}

// near reports whether every edge of a is within tol pixels of b.
func near(a, b image.Rectangle, tol int) bool {
	d := func(x, y int) bool { return x-y <= tol && y-x <= tol }
	return d(a.Min.X, b.Min.X) && d(a.Min.Y, b.Min.Y) && d(a.Max.X, b.Max.X) && d(a.Max.Y, b.Max.Y)
}

// glyphPattern returns a 40x30 binary glyph: a two pixel ring around random
// noise, so each glyph is one connected component with a distinct interior.
func glyphPattern(t *testing.T, rng *rand.Rand) gocv.Mat {
	t.Helper()
	const rows, cols = 40, 30
	m := newMat(t, rows, cols, gocv.MatTypeCV8UC1)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			ring := r < 2 || c < 2 || r >= rows-2 || c >= cols-2
			if ring || rng.IntN(2) == 1 {
				m.SetUCharAt(r, c, 255)
			}
		}
	}
	return m
}

// digitRefs builds references "0".."9" from seeded patterns.
func digitRefs(t *testing.T) (*ReferenceSet, map[string]gocv.Mat) {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	refs := make([]Reference, 0, 10)
	glyphs := make(map[string]gocv.Mat, 10)
	for d := 0; d < 10; d++ {
		label := string(rune('0' + d))
		g := glyphPattern(t, rng)
		glyphs[label] = g
		refs = append(refs, Reference{Label: label, Glyph: g.Clone()})
	}
	set, err := NewReferenceSet(refs)
	if err != nil {
		t.Fatalf("NewReferenceSet: %v", err)
	}
	t.Cleanup(set.Close)
	return set, glyphs
}

// paste copies a single channel glyph into dst at p.
func paste(dst gocv.Mat, glyph gocv.Mat, p image.Point) {
	for r := 0; r < glyph.Rows(); r++ {
		for c := 0; c < glyph.Cols(); c++ {
			dst.SetUCharAt(p.Y+r, p.X+c, glyph.GetUCharAt(r, c))
		}
	}
}
