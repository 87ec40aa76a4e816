package model

import (
	"fmt"

	"lung-vision/internal/autograd"
)

// Backbone is a ResNet feature extractor: a strided stem followed by four
// residual stages, each halving resolution except the first.
type Backbone struct {
	spec   backboneSpec
	conv1  *Conv2D
	bn1    *BatchNorm
	stages [4][]residual
	reg    *registry
}

type residual interface {
	forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error)
}

func newBackbone(src Source, kind BackboneKind, reg *registry) (*Backbone, error) {
	spec, ok := backbones[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackbone, kind)
	}
	b := &Backbone{spec: spec, reg: reg}
	var err error
	if b.conv1, err = newConv(src, "backbone.conv1", 3, 64, 7, 2, 3); err != nil {
		return nil, err
	}
	if b.bn1, err = newBatchNorm(src, "backbone.bn1", 64); err != nil {
		return nil, err
	}
	in := 64
	for s, stage := range StageNames {
		stride := 2
		if s == 0 {
			stride = 1
		}
		for i := 0; i < spec.blocks[s]; i++ {
			name := fmt.Sprintf("backbone.%s.%d", stage, i)
			var blk residual
			if spec.bottleneck {
				blk, err = newBottleneck(src, name, in, spec.widths[s], stride)
			} else {
				blk, err = newBasicBlock(src, name, in, spec.widths[s], stride)
			}
			if err != nil {
				return nil, err
			}
			b.stages[s] = append(b.stages[s], blk)
			in = spec.stageChannels(s)
			stride = 1
		}
	}
	return b, nil
}

// Forward runs the stem and stages 0..last, returning every stage output.
func (b *Backbone) Forward(tp *autograd.Tape, x *autograd.Var, last int, tr *trace) ([]*autograd.Var, error) {
	out, err := b.conv1.Forward(tp, x)
	if err != nil {
		return nil, fmt.Errorf("backbone stem: %w", err)
	}
	tr.mark(b.reg.conv1, out)
	if out, err = b.bn1.Forward(tp, out); err != nil {
		return nil, err
	}
	tr.mark(b.reg.bn1, out)
	out = tp.ReLU(out)
	tr.mark(b.reg.relu, out)
	if out, err = tp.MaxPool2D(out, 3, autograd.ConvSpec{Stride: 2, Padding: 1}); err != nil {
		return nil, err
	}
	tr.mark(b.reg.maxpool, out)

	feats := make([]*autograd.Var, 0, last+1)
	for s := 0; s <= last && s < len(b.stages); s++ {
		for i, blk := range b.stages[s] {
			if out, err = blk.forward(tp, out); err != nil {
				return nil, fmt.Errorf("backbone %s.%d: %w", StageNames[s], i, err)
			}
			tr.mark(b.reg.blocks[s][i], out)
		}
		tr.mark(b.reg.stages[s], out)
		feats = append(feats, out)
	}
	return feats, nil
}

type downsample struct {
	conv *Conv2D
	bn   *BatchNorm
}

func newDownsample(src Source, name string, in, out, stride int) (*downsample, error) {
	if in == out && stride == 1 {
		return nil, nil
	}
	conv, err := newConv(src, name+".downsample.0", in, out, 1, stride, 0)
	if err != nil {
		return nil, err
	}
	bn, err := newBatchNorm(src, name+".downsample.1", out)
	if err != nil {
		return nil, err
	}
	return &downsample{conv: conv, bn: bn}, nil
}

func (d *downsample) shortcut(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	if d == nil {
		return x, nil
	}
	y, err := d.conv.Forward(tp, x)
	if err != nil {
		return nil, err
	}
	return d.bn.Forward(tp, y)
}

type convBN struct {
	conv *Conv2D
	bn   *BatchNorm
}

func newConvBN(src Source, name string, idx, in, out, k, stride, pad int) (convBN, error) {
	conv, err := newConv(src, fmt.Sprintf("%s.conv%d", name, idx), in, out, k, stride, pad)
	if err != nil {
		return convBN{}, err
	}
	bn, err := newBatchNorm(src, fmt.Sprintf("%s.bn%d", name, idx), out)
	if err != nil {
		return convBN{}, err
	}
	return convBN{conv: conv, bn: bn}, nil
}

func (c convBN) forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	y, err := c.conv.Forward(tp, x)
	if err != nil {
		return nil, err
	}
	return c.bn.Forward(tp, y)
}

// basicBlock is two 3×3 convolutions with an identity or projected shortcut.
type basicBlock struct {
	body [2]convBN
	down *downsample
}

func newBasicBlock(src Source, name string, in, width, stride int) (*basicBlock, error) {
	b := &basicBlock{}
	var err error
	if b.body[0], err = newConvBN(src, name, 1, in, width, 3, stride, 1); err != nil {
		return nil, err
	}
	if b.body[1], err = newConvBN(src, name, 2, width, width, 3, 1, 1); err != nil {
		return nil, err
	}
	if b.down, err = newDownsample(src, name, in, width, stride); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *basicBlock) forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	return residualForward(tp, x, b.body[:], b.down)
}

// bottleneck is 1×1 reduce, strided 3×3, 1×1 expand by four.
type bottleneck struct {
	body [3]convBN
	down *downsample
}

func newBottleneck(src Source, name string, in, width, stride int) (*bottleneck, error) {
	b := &bottleneck{}
	var err error
	if b.body[0], err = newConvBN(src, name, 1, in, width, 1, 1, 0); err != nil {
		return nil, err
	}
	if b.body[1], err = newConvBN(src, name, 2, width, width, 3, stride, 1); err != nil {
		return nil, err
	}
	if b.body[2], err = newConvBN(src, name, 3, width, width*4, 1, 1, 0); err != nil {
		return nil, err
	}
	if b.down, err = newDownsample(src, name, in, width*4, stride); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *bottleneck) forward(tp *autograd.Tape, x *autograd.Var) (*autograd.Var, error) {
	return residualForward(tp, x, b.body[:], b.down)
}

func residualForward(tp *autograd.Tape, x *autograd.Var, body []convBN, down *downsample) (*autograd.Var, error) {
	out := x
	var err error
	for i, c := range body {
		if out, err = c.forward(tp, out); err != nil {
			return nil, err
		}
		if i < len(body)-1 {
			out = tp.ReLU(out)
		}
	}
	identity, err := down.shortcut(tp, x)
	if err != nil {
		return nil, err
	}
	if out, err = tp.Add(out, identity); err != nil {
		return nil, err
	}
	return tp.ReLU(out), nil
}
