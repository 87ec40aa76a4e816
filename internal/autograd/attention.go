package autograd

import (
	"fmt"
	"math"

	"lung-vision/internal/tensor"
)

// Attention computes multi-head scaled dot-product attention.
//
// q is [B, Tq, D]; k and v are [B, Tk, D]. Head h owns columns
// [h*D/heads, (h+1)*D/heads) of every operand. The result is [B, Tq, D] with
// heads concatenated back in the same column layout, so the output length
// always follows the queries.
func (tp *Tape) Attention(q, k, v *Var, heads int) (*Var, error) {
	for _, x := range []*Var{q, k, v} {
		if err := x.Value.Expect(-1, -1, -1); err != nil {
			return nil, err
		}
	}
	bs, tq, d := q.Shape()[0], q.Shape()[1], q.Shape()[2]
	tk := k.Shape()[1]
	if heads <= 0 || d%heads != 0 {
		return nil, fmt.Errorf("%w: width %d over %d heads", tensor.ErrShape, d, heads)
	}
	if err := k.Value.Expect(bs, tk, d); err != nil {
		return nil, err
	}
	if err := v.Value.Expect(bs, tk, d); err != nil {
		return nil, err
	}
	hd := d / heads
	scale := 1 / math.Sqrt(float64(hd))

	view := func(data []float64, b, t, h int) tensor.Matrix {
		return tensor.Matrix{Rows: t, Cols: hd, Stride: d, Data: data[b*t*d+h*hd:]}
	}

	y := tensor.New(bs, tq, d)
	probs := make([]float64, bs*heads*tq*tk)
	for b := 0; b < bs; b++ {
		for h := 0; h < heads; h++ {
			p := probs[(b*heads+h)*tq*tk : (b*heads+h+1)*tq*tk]
			P := tensor.Dense(tq, tk, p)
			tensor.Gemm(false, true, scale, view(q.Value.Data, b, tq, h), view(k.Value.Data, b, tk, h), 0, P)
			softmaxRows(p, tq, tk)
			tensor.Gemm(false, false, 1, P, view(v.Value.Data, b, tk, h), 0, view(y.Data, b, tq, h))
		}
	}

	return tp.node(y, func(out *Var) {
		gq, gk, gv := q.grad(), k.grad(), v.grad()
		dp := make([]float64, tq*tk)
		for b := 0; b < bs; b++ {
			for h := 0; h < heads; h++ {
				p := probs[(b*heads+h)*tq*tk : (b*heads+h+1)*tq*tk]
				P := tensor.Dense(tq, tk, p)
				dO := view(out.Grad.Data, b, tq, h)
				if gv != nil {
					tensor.Gemm(true, false, 1, P, dO, 1, view(gv, b, tk, h))
				}
				if gq == nil && gk == nil {
					continue
				}
				dP := tensor.Dense(tq, tk, dp)
				tensor.Gemm(false, true, 1, dO, view(v.Value.Data, b, tk, h), 0, dP)
				// softmax adjoint, in place: dS = P ⊙ (dP - rowsum(dP ⊙ P))
				for i := 0; i < tq; i++ {
					row, pr := dp[i*tk:(i+1)*tk], p[i*tk:(i+1)*tk]
					var dot float64
					for j := range row {
						dot += row[j] * pr[j]
					}
					for j := range row {
						row[j] = pr[j] * (row[j] - dot)
					}
				}
				if gq != nil {
					tensor.Gemm(false, false, scale, dP, view(k.Value.Data, b, tk, h), 1, view(gq, b, tq, h))
				}
				if gk != nil {
					tensor.Gemm(true, false, scale, dP, view(q.Value.Data, b, tq, h), 1, view(gk, b, tk, h))
				}
			}
		}
	}, q, k, v), nil
}

func softmaxRows(p []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		row := p[i*cols : (i+1)*cols]
		max := row[0]
		for _, s := range row[1:] {
			if s > max {
				max = s
			}
		}
		var sum float64
		for j, s := range row {
			row[j] = math.Exp(s - max)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}
