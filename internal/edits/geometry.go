package edits

import (
	"errors"
	"fmt"
	"math"
)

var errMissingSize = errors.New("intrinsic image size is unavailable")

// Geometry is a planned resize: the source is resampled to ScaleWidth x
// ScaleHeight and then cropped (cover) or letterboxed (contain) to
// Width x Height, centred.
type Geometry struct {
	ScaleWidth  int
	ScaleHeight int
	Width       int
	Height      int
	Fit         FitPolicy
}

func (g Geometry) Resamples(srcW, srcH int) bool {
	return g.ScaleWidth != srcW || g.ScaleHeight != srcH
}

func (g Geometry) Crops() bool {
	return g.ScaleWidth > g.Width || g.ScaleHeight > g.Height
}

func (g Geometry) Embeds() bool {
	return g.ScaleWidth < g.Width || g.ScaleHeight < g.Height
}

// Offset is the position of the canvas within the scaled image for a crop, or
// of the scaled image within the canvas for an embed.
func (g Geometry) Offset() (x, y int) {
	return abs(g.ScaleWidth-g.Width) / 2, abs(g.ScaleHeight-g.Height) / 2
}

// MaxDimension is the largest width or height libvips can address.
const MaxDimension = 10_000_000

// Plan computes the geometry of r applied to a srcW x srcH image. A single
// dimension scales proportionally whatever the fit.
func Plan(srcW, srcH int, r Resize) (Geometry, error) {
	if srcW <= 0 || srcH <= 0 {
		return Geometry{}, fmt.Errorf("source image has invalid dimensions %dx%d", srcW, srcH)
	}
	if r.Width != nil && *r.Width <= 0 {
		return Geometry{}, fmt.Errorf("expected positive integer for width but received %d", *r.Width)
	}
	if r.Height != nil && *r.Height <= 0 {
		return Geometry{}, fmt.Errorf("expected positive integer for height but received %d", *r.Height)
	}
	if r.Width != nil && *r.Width > MaxDimension {
		return Geometry{}, fmt.Errorf("width %d exceeds the maximum of %d", *r.Width, MaxDimension)
	}
	if r.Height != nil && *r.Height > MaxDimension {
		return Geometry{}, fmt.Errorf("height %d exceeds the maximum of %d", *r.Height, MaxDimension)
	}

	fit := r.Fit
	if fit == "" {
		fit = FitInside
	}

	switch {
	case r.Width == nil && r.Height == nil:
		return box(srcW, srcH, srcW, srcH, fit), nil
	case r.Height == nil:
		w := *r.Width
		h := scaled(srcH, float64(w)/float64(srcW))
		return box(w, h, w, h, fit), nil
	case r.Width == nil:
		h := *r.Height
		w := scaled(srcW, float64(h)/float64(srcH))
		return box(w, h, w, h, fit), nil
	}

	w, h := *r.Width, *r.Height
	sx := float64(w) / float64(srcW)
	sy := float64(h) / float64(srcH)

	switch fit {
	case FitFill:
		return box(w, h, w, h, fit), nil
	case FitOutside:
		s := math.Max(sx, sy)
		sw, sh := scaled(srcW, s), scaled(srcH, s)
		return box(sw, sh, sw, sh, fit), nil
	case FitCover:
		s := math.Max(sx, sy)
		sw, sh := max(scaled(srcW, s), w), max(scaled(srcH, s), h)
		return box(sw, sh, w, h, fit), nil
	case FitContain:
		s := math.Min(sx, sy)
		sw, sh := min(scaled(srcW, s), w), min(scaled(srcH, s), h)
		return box(sw, sh, w, h, fit), nil
	default:
		s := math.Min(sx, sy)
		sw, sh := scaled(srcW, s), scaled(srcH, s)
		return box(sw, sh, sw, sh, FitInside), nil
	}
}

func box(sw, sh, w, h int, fit FitPolicy) Geometry {
	return Geometry{ScaleWidth: sw, ScaleHeight: sh, Width: w, Height: h, Fit: fit}
}

func scaled(n int, s float64) int {
	return max(1, int(round(float64(n)*s)))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
