package pipeline

import (
	"image"

	"github.com/corona10/goimagehash"
	"gocv.io/x/gocv"
)

// scorePolicy decides which frames may be classified without reading
// digits: frames whose perceptual hash is within distance of the last fully
// scored frame, at most every frames in a row. It is used by the dispatcher
// only and is not synchronized.
type scorePolicy struct {
	every    int
	distance int
	last     *goimagehash.ImageHash
	skipped  int
}

func newScorePolicy(every, distance int) *scorePolicy {
	return &scorePolicy{every: every, distance: distance}
}

// skip reports whether digits can be skipped for m.
func (p *scorePolicy) skip(m gocv.Mat) bool {
	if p.every <= 0 {
		return false
	}
	hash, err := frameHash(m)
	if err != nil {
		p.last = nil
		return false
	}

	if p.last != nil && p.skipped < p.every {
		if dist, err := p.last.Distance(hash); err == nil && dist <= p.distance {
			p.skipped++
			return true
		}
	}

	p.last = hash
	p.skipped = 0
	return false
}

// frameHash computes the perceptual hash of a downscaled copy of m.
func frameHash(m gocv.Mat) (*goimagehash.ImageHash, error) {
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(m, &small, image.Pt(HashSize, HashSize), 0, 0, gocv.InterpolationArea)
	img, err := small.ToImage()
	if err != nil {
		return nil, err
	}
	return goimagehash.PerceptionHash(img)
}
