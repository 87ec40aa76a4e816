//go:build gocv
// +build gocv

package visualize

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
)

func resizeRGBA(src *image.RGBA, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: resize to %dx%d", ErrInvalidImage, w, h)
	}
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		return src, nil
	}
	mat, err := gocv.ImageToMatRGB(src)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	return matToRGBA(resized)
}

func blend(base, top *image.RGBA, alpha float64) (*image.RGBA, error) {
	if base.Bounds().Size() != top.Bounds().Size() {
		return nil, fmt.Errorf("%w: blend %v with %v", ErrInvalidImage, base.Bounds().Size(), top.Bounds().Size())
	}
	a, err := gocv.ImageToMatRGB(base)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	b, err := gocv.ImageToMatRGB(top)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	out := gocv.NewMat()
	defer out.Close()
	gocv.AddWeighted(a, 1-alpha, b, alpha, 0, &out)
	return matToRGBA(out)
}

func matToRGBA(m gocv.Mat) (*image.RGBA, error) {
	if m.Empty() {
		return nil, fmt.Errorf("%w: empty mat", ErrInvalidImage)
	}
	img, err := m.ToImage()
	if err != nil {
		return nil, err
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}
