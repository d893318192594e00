package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// bounds returns the full rectangle of m.
func bounds(m gocv.Mat) image.Rectangle {
	return image.Rect(0, 0, m.Cols(), m.Rows())
}

// clip intersects r with the bounds of m. OpenCV aborts on out-of-range ROIs,
// so every Region call goes through here.
func clip(m gocv.Mat, r image.Rectangle) image.Rectangle {
	return r.Intersect(bounds(m))
}

// region returns a view of m limited to r, or ok=false for an empty ROI.
// The caller closes the returned Mat.
func region(m gocv.Mat, r image.Rectangle) (gocv.Mat, bool) {
	r = clip(m, r)
	if r.Empty() {
		return gocv.Mat{}, false
	}
	return m.Region(r), true
}

// toGray converts a BGR image to a new single channel Mat.
func toGray(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if src.Channels() == 1 {
		src.CopyTo(&gray)
		return gray
	}
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	return gray
}

// binarize thresholds a grayscale copy of src at thresh.
func binarize(src gocv.Mat, thresh float32) gocv.Mat {
	gray := toGray(src)
	defer gray.Close()
	bin := gocv.NewMat()
	gocv.Threshold(gray, &bin, thresh, 255, gocv.ThresholdBinary)
	return bin
}

// colorMask returns the in-range mask of a BGR image.
func colorMask(src gocv.Mat, r ColorRange) gocv.Mat {
	mask := gocv.NewMat()
	gocv.InRangeWithScalar(src, r.lowerScalar(), r.upperScalar(), &mask)
	return mask
}

// countInRange counts pixels of src inside r within the given ROI.
func countInRange(src gocv.Mat, roi image.Rectangle, r ColorRange) int {
	sub, ok := region(src, roi)
	if !ok {
		return 0
	}
	defer sub.Close()
	mask := colorMask(sub, r)
	defer mask.Close()
	return gocv.CountNonZero(mask)
}

// isBackground reports whether every channel of the pixel is <= level.
func isBackground(m gocv.Mat, row, col int, level uint8) bool {
	if m.Channels() == 1 {
		return m.GetUCharAt(row, col) <= level
	}
	for _, c := range m.GetVecbAt(row, col) {
		if c > level {
			return false
		}
	}
	return true
}

// lastNonEmptyRow returns the lowest row of a mask holding a set pixel, or -1.
func lastNonEmptyRow(mask gocv.Mat) int {
	for r := mask.Rows() - 1; r >= 0; r-- {
		for c := 0; c < mask.Cols(); c++ {
			if mask.GetUCharAt(r, c) != 0 {
				return r
			}
		}
	}
	return -1
}
