package vision

import (
	"image"
	"sort"

	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

// Layout holds the regions derived from one frame. Playfield is in frame
// coordinates; every other rectangle is relative to the playfield crop.
type Layout struct {
	Playfield   image.Rectangle
	Divider     image.Rectangle
	ScorePanel  image.Rectangle
	LeftScreen  image.Rectangle
	RightScreen image.Rectangle
}

func geometryErr(format string, args ...any) error {
	return apperrors.Newf(apperrors.CodeGeometry, format, args...)
}

// IsGeometryError reports whether err means an expected region was absent or
// implausible.
func IsGeometryError(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeGeometry)
}

// LocatePlayfield finds the inner game area of a raw frame.
//
// Policy: bounding boxes of all contours are stable-sorted by ascending
// height and the one at index len-2 is taken. The tallest box is the outer
// cabinet border, the next one is the playfield; among equal heights the
// earlier contour wins. Contours are retrieved as a full hierarchy, whose
// ordering is what fixtures were recorded against.
func LocatePlayfield(frame gocv.Mat, cfg Config) (image.Rectangle, error) {
	if frame.Empty() {
		return image.Rectangle{}, geometryErr("empty frame")
	}

	bin := binarize(frame, cfg.PlayfieldThreshold)
	defer bin.Close()

	contours := gocv.FindContours(bin, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() < 2 {
		return image.Rectangle{}, geometryErr("found %d contours, need at least 2", contours.Size())
	}

	boxes := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		boxes = append(boxes, gocv.BoundingRect(contours.At(i)))
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Dy() < boxes[j].Dy() })
	box := boxes[len(boxes)-2]

	r := image.Rect(box.Min.X+1, box.Min.Y+1, box.Max.X-1, box.Max.Y-1)
	if h := r.Dy(); h <= cfg.PlayfieldMin || h >= cfg.PlayfieldMax {
		return image.Rectangle{}, geometryErr("playfield height %d outside (%d, %d)", h, cfg.PlayfieldMin, cfg.PlayfieldMax)
	}
	if w := r.Dx(); w <= cfg.PlayfieldMin || w >= cfg.PlayfieldMax {
		return image.Rectangle{}, geometryErr("playfield width %d outside (%d, %d)", w, cfg.PlayfieldMin, cfg.PlayfieldMax)
	}

	// the encoder needs even dimensions
	if r.Dy()%2 != 0 {
		r.Max.Y--
	}
	if r.Dx()%2 != 0 {
		r.Max.X--
	}
	return r, nil
}

// LocateDivider finds the graphic separating the two player screens inside a
// playfield crop. The divider spans from its top edge down to the bottom of
// the playfield.
func LocateDivider(playfield gocv.Mat, cfg Config) (image.Rectangle, error) {
	rows, cols := playfield.Rows(), playfield.Cols()
	if rows < 2 || cols < 2 {
		return image.Rectangle{}, geometryErr("playfield %dx%d too small", cols, rows)
	}
	midRow, midCol := rows/2, cols/2
	bg := func(r, c int) bool { return isBackground(playfield, r, c, cfg.BackgroundLevel) }

	inner := -1
	for r := midRow; r >= 0; r-- {
		if !bg(r, midCol) {
			inner = r
			break
		}
	}
	if inner < 0 {
		return image.Rectangle{}, geometryErr("divider inner edge not found")
	}

	top := -1
	for r := inner; r >= 0; r-- {
		if bg(r, midCol) {
			top = r + 1
			break
		}
	}
	if top < 0 {
		return image.Rectangle{}, geometryErr("divider top edge not found")
	}

	left := -1
	for c := midCol; c >= 0; c-- {
		if bg(top, c) {
			left = c
			break
		}
	}
	if left < 0 {
		return image.Rectangle{}, geometryErr("divider left edge not found")
	}

	right := -1
	for c := midCol; c < cols; c++ {
		if bg(top, c) {
			right = c
			break
		}
	}
	if right < 0 {
		return image.Rectangle{}, geometryErr("divider right edge not found")
	}

	return image.Rect(left, top, right, rows), nil
}

// NewLayout derives the score panel and player screens of a playfield of
// the given size from its divider.
func NewLayout(playfield image.Rectangle, divider image.Rectangle) (Layout, error) {
	size := playfield.Size()
	l := Layout{
		Playfield:   playfield,
		Divider:     divider,
		ScorePanel:  image.Rect(0, 0, size.X, divider.Min.Y),
		LeftScreen:  image.Rect(0, divider.Min.Y, divider.Min.X, size.Y),
		RightScreen: image.Rect(divider.Max.X, divider.Min.Y, size.X, size.Y),
	}
	switch {
	case l.ScorePanel.Empty():
		return Layout{}, geometryErr("score panel is empty")
	case l.LeftScreen.Empty():
		return Layout{}, geometryErr("left screen is empty")
	case l.RightScreen.Empty():
		return Layout{}, geometryErr("right screen is empty")
	}
	return l, nil
}

// Locate runs playfield and divider location and returns the full layout.
func Locate(frame gocv.Mat, cfg Config) (Layout, error) {
	pf, err := LocatePlayfield(frame, cfg)
	if err != nil {
		return Layout{}, err
	}
	crop, ok := region(frame, pf)
	if !ok {
		return Layout{}, geometryErr("playfield outside frame")
	}
	defer crop.Close()

	divider, err := LocateDivider(crop, cfg)
	if err != nil {
		return Layout{Playfield: pf}, err
	}
	return NewLayout(pf, divider)
}
