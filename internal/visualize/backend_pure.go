//go:build !gocv
// +build !gocv

package visualize

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// resizeRGBA resamples src to w×h with bilinear interpolation.
func resizeRGBA(src *image.RGBA, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: resize to %dx%d", ErrInvalidImage, w, h)
	}
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		return src, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// blend returns base·(1-alpha) + top·alpha per channel; both images must
// share bounds.
func blend(base, top *image.RGBA, alpha float64) (*image.RGBA, error) {
	if base.Bounds().Size() != top.Bounds().Size() {
		return nil, fmt.Errorf("%w: blend %v with %v", ErrInvalidImage, base.Bounds().Size(), top.Bounds().Size())
	}
	b := base.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		br := base.Pix[y*base.Stride:]
		tr := top.Pix[y*top.Stride:]
		or := out.Pix[y*out.Stride:]
		for i := 0; i < 4*b.Dx(); i++ {
			if i%4 == 3 {
				or[i] = 255
				continue
			}
			v := float64(br[i])*(1-alpha) + float64(tr[i])*alpha
			or[i] = uint8(min(max(v+0.5, 0), 255))
		}
	}
	return out, nil
}
