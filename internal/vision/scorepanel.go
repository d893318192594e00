package vision

import (
	"image"
	"sort"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

// Side identifies a player's half of the score panel.
type Side int

const (
	LeftSide Side = iota
	RightSide
)

func (s Side) String() string {
	if s == RightSide {
		return "right"
	}
	return "left"
}

// PanelLayout selects the next-piece threshold variant.
type PanelLayout int

const (
	LayoutStandard PanelLayout = iota
	LayoutTwoPlayer
)

// Band indexes the three readouts of a side panel.
const (
	BandScore = iota
	BandLines
	BandLevel
	bandCount
)

// SplitSides finds the left and right sub-panels of a score panel. The
// lowest masked row is scanned outward from the middle: past the central
// gap, across the first run of content, up to the next gap.
func SplitSides(panel gocv.Mat, cfg Config) (left, right image.Rectangle, err error) {
	if panel.Empty() {
		return image.Rectangle{}, image.Rectangle{}, geometryErr("empty score panel")
	}
	mask := colorMask(panel, cfg.PanelMask)
	defer mask.Close()

	row := lastNonEmptyRow(mask)
	if row < 0 {
		return image.Rectangle{}, image.Rectangle{}, geometryErr("score panel has no content")
	}
	rows, cols := mask.Rows(), mask.Cols()
	mid := cols / 2

	endLeft, inRun := -1, false
	for c := mid; c > 0; c-- {
		set := mask.GetUCharAt(row, c) != 0
		if !inRun {
			inRun = set
			continue
		}
		if !set {
			endLeft = c
			break
		}
	}
	if endLeft < 0 {
		return image.Rectangle{}, image.Rectangle{}, geometryErr("left score panel edge not found")
	}

	endRight := -1
	inRun = false
	for c := mid; c < cols; c++ {
		set := mask.GetUCharAt(row, c) != 0
		if !inRun {
			inRun = set
			continue
		}
		if !set {
			endRight = c
			break
		}
	}
	if endRight < 0 {
		return image.Rectangle{}, image.Rectangle{}, geometryErr("right score panel edge not found")
	}

	return image.Rect(0, 0, endLeft+1, rows), image.Rect(endRight, 0, cols, rows), nil
}

// SidePanel reads the score, lines and level of one player.
type SidePanel struct {
	img    gocv.Mat
	side   Side
	layout PanelLayout
	refs   *ReferenceSet
	cfg    Config
	bands  [bandCount]image.Rectangle
	next   bool
}

// NewSidePanel prepares a side panel. img must stay valid until Close; the
// panel does not take ownership of it.
func NewSidePanel(img gocv.Mat, side Side, layout PanelLayout, refs *ReferenceSet, cfg Config) *SidePanel {
	p := &SidePanel{img: img, side: side, layout: layout, refs: refs, cfg: cfg}
	if img.Empty() {
		return p
	}

	mask := colorMask(img, cfg.PanelMask)
	defer mask.Close()

	bands, ok := p.scanBands(mask)
	if !ok {
		bands = fixedThirds(img.Rows(), img.Cols(), cfg.MinBandHeight)
	}
	for i, b := range bands {
		p.bands[i] = p.strip(mask, b)
	}

	threshold := cfg.NextPixelThreshold
	if layout == LayoutTwoPlayer {
		threshold = cfg.NextPixelThresholdTwoPlayer
	}
	p.next = countInRange(img, bounds(img), cfg.NextMask) > threshold
	return p
}

// scanBands walks the inner edge column from mid-height up and down across
// the separators between the three readouts.
func (p *SidePanel) scanBands(mask gocv.Mat) ([bandCount]image.Rectangle, bool) {
	var out [bandCount]image.Rectangle
	rows, cols := mask.Rows(), mask.Cols()
	col := cols - 1
	if p.side == RightSide {
		col = 0
	}
	mid := rows / 2
	at := func(r int) bool { return mask.GetUCharAt(r, col) != 0 }

	startTop, endTop := -1, -1
	for r := mid; r >= 0; r-- {
		if startTop < 0 {
			if at(r) {
				startTop = r + 1
			}
		} else if !at(r) {
			endTop = r
			break
		}
	}

	startBottom, endBottom := -1, -1
	for r := mid; r < rows; r++ {
		if startBottom < 0 {
			if at(r) {
				startBottom = r - 1
			}
		} else if !at(r) {
			endBottom = r
			break
		}
	}

	if endTop <= 0 || startBottom <= startTop || endBottom < 0 || endBottom >= rows {
		return out, false
	}
	out[BandScore] = image.Rect(0, 0, cols, endTop)
	out[BandLines] = image.Rect(0, startTop, cols, startBottom)
	out[BandLevel] = image.Rect(0, endBottom, cols, rows)
	for _, b := range out {
		if b.Empty() {
			return out, false
		}
	}
	return out, true
}

// fixedThirds splits rows into three bands of at least minHeight rows.
func fixedThirds(rows, cols, minHeight int) [bandCount]image.Rectangle {
	var out [bandCount]image.Rectangle
	h := max(rows/bandCount, minHeight)
	for i := range out {
		y0 := min(i*h, max(rows-h, 0))
		y1 := min(y0+h, rows)
		if i == bandCount-1 {
			y1 = rows
		}
		out[i] = image.Rect(0, y0, cols, y1)
	}
	return out
}

// strip trims the band at the first masked pixel of its bottom row seen
// from the outer edge. A band that would become empty is left whole.
func (p *SidePanel) strip(mask gocv.Mat, band image.Rectangle) image.Rectangle {
	if band.Empty() {
		return band
	}
	row := band.Max.Y - 1
	out := band
	if p.side == LeftSide {
		for c := band.Max.X - 1; c >= band.Min.X; c-- {
			if mask.GetUCharAt(row, c) != 0 {
				out.Min.X = c + 1
				break
			}
		}
	} else {
		for c := band.Min.X; c < band.Max.X; c++ {
			if mask.GetUCharAt(row, c) != 0 {
				out.Max.X = c
				break
			}
		}
	}
	if out.Empty() {
		return band
	}
	return out
}

// Bands returns the three readout rectangles relative to the side image.
func (p *SidePanel) Bands() [bandCount]image.Rectangle { return p.bands }

// IsNext reports whether the next-piece indicator is lit, meaning the
// player is active and their readouts are meaningful.
func (p *SidePanel) IsNext() bool { return p.next }

// Line reads band n. Absent when the player is inactive or nothing
// recognizable is found.
func (p *SidePanel) Line(n int) Score {
	if n < 0 || n >= bandCount || !p.next {
		return Score{}
	}
	band, ok := region(p.img, p.bands[n])
	if !ok {
		return Score{}
	}
	defer band.Close()

	v, ok := ReadNumber(band, p.refs, p.cfg)
	if !ok {
		return Score{}
	}
	return ScoreOf(v)
}

func (p *SidePanel) Score() Score { return p.Line(BandScore) }
func (p *SidePanel) Lines() Score { return p.Line(BandLines) }
func (p *SidePanel) Level() Score { return p.Line(BandLevel) }

// Glyphs returns the bounding boxes of the connected components of a binary
// image that look like digits, left to right.
func Glyphs(bin gocv.Mat, cfg Config) []image.Rectangle {
	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	boxes := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		b := gocv.BoundingRect(contours.At(i))
		if keepGlyph(b, cfg) {
			boxes = append(boxes, b)
		}
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Min.X < boxes[j].Min.X })
	return boxes
}

func keepGlyph(b image.Rectangle, cfg Config) bool {
	w, h := b.Dx(), b.Dy()
	if h < cfg.MinGlyphHeight || w < cfg.MinGlyphWidth {
		return false
	}
	if float64(h) < cfg.MinHeightToWidth*float64(w) {
		return false
	}
	aspect := float64(w) / float64(h)
	return aspect >= cfg.MinAspect && aspect <= cfg.MaxAspect
}

// ReadNumber recognizes the digits in a BGR band and concatenates them.
func ReadNumber(band gocv.Mat, refs *ReferenceSet, cfg Config) (int, bool) {
	if band.Empty() || refs == nil {
		return 0, false
	}
	bin := binarize(band, cfg.DigitThreshold)
	defer bin.Close()

	var digits strings.Builder
	for _, box := range Glyphs(bin, cfg) {
		glyph, ok := region(bin, box)
		if !ok {
			return 0, false
		}
		label, _ := Match(glyph, refs)
		glyph.Close()
		if label == "" {
			return 0, false
		}
		digits.WriteString(label)
	}
	if digits.Len() == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(digits.String())
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
