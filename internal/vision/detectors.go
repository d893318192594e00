package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// IsGameOver looks for the stylized game-over banner in the top half of a
// player's screen. A red blob only counts when its binarized interior holds
// at least GameOverMinContours contours, which plain colored areas lack.
func IsGameOver(screen gocv.Mat, cfg Config) (over bool) {
	defer func() {
		if recover() != nil {
			over = false
		}
	}()
	if screen.Empty() {
		return false
	}
	top, ok := region(screen, image.Rect(0, 0, screen.Cols(), screen.Rows()/2))
	if !ok {
		return false
	}
	defer top.Close()

	mask := colorMask(top, cfg.GameOverMask)
	defer mask.Close()

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return false
	}

	best, bestArea := 0, -1.0
	for i := 0; i < contours.Size(); i++ {
		if a := gocv.ContourArea(contours.At(i)); a > bestArea {
			best, bestArea = i, a
		}
	}
	banner, ok := region(top, gocv.BoundingRect(contours.At(best)))
	if !ok {
		return false
	}
	defer banner.Close()

	bin := binarize(banner, cfg.GameOverThreshold)
	defer bin.Close()

	tree := gocv.FindContours(bin, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer tree.Close()
	return tree.Size() >= cfg.GameOverMinContours
}

// IsPaused reports the pause overlay: any pause-red pixel inside the divider,
// ignoring PauseInset of its width on each side.
func IsPaused(playfield gocv.Mat, layout Layout, cfg Config) (paused bool) {
	defer func() {
		if recover() != nil {
			paused = false
		}
	}()
	d := layout.Divider
	inset := int(float64(d.Dx()) * cfg.PauseInset)
	roi := image.Rect(d.Min.X+inset, d.Min.Y, d.Max.X-inset, d.Max.Y)
	if roi.Empty() {
		return false
	}
	return countInRange(playfield, roi, cfg.PauseMask) > cfg.PauseMinPixels
}

// IsTwoPlayer reports whether both outer quarters of the score panel show a
// lit next-piece indicator.
func IsTwoPlayer(panel gocv.Mat, cfg Config) (two bool) {
	defer func() {
		if recover() != nil {
			two = false
		}
	}()
	if panel.Empty() {
		return false
	}
	rows, cols := panel.Rows(), panel.Cols()
	q := cols / 4
	if q == 0 {
		return false
	}
	left := countInRange(panel, image.Rect(0, 0, q, rows), cfg.TwoPlayerMask)
	if left <= cfg.TwoPlayerMinPixels {
		return false
	}
	right := countInRange(panel, image.Rect(cols-q, 0, cols, rows), cfg.TwoPlayerMask)
	return right > cfg.TwoPlayerMinPixels
}
