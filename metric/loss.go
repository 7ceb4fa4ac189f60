package metric

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/base"
)

// FlattenLogits reshapes per-pixel scores [B C H W] into [B*H*W C].
func FlattenLogits(x *ts.Tensor, numClasses int64) (*ts.Tensor, error) {
	size := x.MustSize()
	if len(size) != 4 {
		return nil, errors.Errorf("metric: expected 4D [B C H W] tensor, got %v", size)
	}
	if size[1] != numClasses {
		return nil, errors.Wrapf(base.ErrShapeMismatch, "metric: expected %v channels, got %v", numClasses, size)
	}

	perm := x.MustPermute([]int64{0, 2, 3, 1}, false)
	return perm.MustReshape([]int64{-1, numClasses}, true), nil
}

// SoftmaxCrossEntropy returns the mean softmax cross-entropy between
// per-pixel scores and one-hot labels, both [B C H W].
//
// Labels are never broadcast: any shape difference is an error wrapping
// base.ErrShapeMismatch.
func SoftmaxCrossEntropy(scores, labels *ts.Tensor) (*ts.Tensor, error) {
	if err := base.SameShape("metric: scores vs labels", scores, labels); err != nil {
		return nil, err
	}
	c := scores.MustSize()[1]

	logits, err := FlattenLogits(scores, c)
	if err != nil {
		return nil, err
	}
	target, err := FlattenLogits(labels, c)
	if err != nil {
		logits.MustDrop()
		return nil, err
	}

	loss := crossEntropy(logits, target)
	logits.MustDrop()
	target.MustDrop()

	return loss, nil
}

// FlatCrossEntropy is SoftmaxCrossEntropy over already flattened [P C]
// logits and labels. Neither input is consumed.
func FlatCrossEntropy(logits, labels *ts.Tensor) (*ts.Tensor, error) {
	if err := base.SameShape("metric: flat logits vs labels", logits, labels); err != nil {
		return nil, err
	}
	if len(logits.MustSize()) != 2 {
		return nil, errors.Errorf("metric: expected 2D [P C] logits, got %v", logits.MustSize())
	}

	return crossEntropy(logits, labels), nil
}

// crossEntropy computes mean(-sum(target * log_softmax(logits), 1)) over
// flattened [P C] tensors.
func crossEntropy(logits, target *ts.Tensor) *ts.Tensor {
	logp := logits.MustLogSoftmax(1, gotch.Float, false)
	tgt := target.MustTotype(gotch.Float, false)
	prod := logp.MustMul(tgt, true)
	tgt.MustDrop()
	perPixel := prod.MustSum1([]int64{1}, false, gotch.Float, true)
	mean := perPixel.MustMean(gotch.Float, true)

	return mean.MustMul1(ts.FloatScalar(-1), true)
}
