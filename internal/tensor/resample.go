package tensor

// Lerp holds the two source taps and weights for one output coordinate.
type Lerp struct {
	I0, I1 int
	W0, W1 float64
}

// LerpTable maps out output coordinates onto in source coordinates with
// half-pixel centres (align_corners=false). Negative source positions clamp
// to the first sample.
func LerpTable(in, out int) []Lerp {
	table := make([]Lerp, out)
	scale := float64(in) / float64(out)
	for o := range table {
		src := (float64(o)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		i0 := int(src)
		if i0 > in-1 {
			i0 = in - 1
		}
		i1 := i0
		if i0 < in-1 {
			i1 = i0 + 1
		}
		l := src - float64(i0)
		if i1 == i0 {
			l = 0
		}
		table[o] = Lerp{I0: i0, I1: i1, W0: 1 - l, W1: l}
	}
	return table
}

// ResizeBilinear resamples one h×w plane to oh×ow.
func ResizeBilinear(src []float64, h, w, oh, ow int) []float64 {
	dst := make([]float64, oh*ow)
	ys, xs := LerpTable(h, oh), LerpTable(w, ow)
	for oy, ly := range ys {
		r0, r1 := src[ly.I0*w:], src[ly.I1*w:]
		for ox, lx := range xs {
			top := r0[lx.I0]*lx.W0 + r0[lx.I1]*lx.W1
			bot := r1[lx.I0]*lx.W0 + r1[lx.I1]*lx.W1
			dst[oy*ow+ox] = top*ly.W0 + bot*ly.W1
		}
	}
	return dst
}
