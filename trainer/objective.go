package trainer

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/base"
	"github.com/sugarme/fcnroad/metric"
	"github.com/sugarme/fcnroad/session"
)

// Objective turns per-pixel scores and one-hot labels into a mean
// softmax cross-entropy and applies Adam updates to the trainable stores.
type Objective struct {
	NumClasses int64

	opts []*nn.Optimizer
}

// NewObjective creates Adam optimizers over the head store, plus the
// backbone store unless freezeBackbone is set.
//
// Optimizers capture the variables present at build time, so the model
// must be built in sess before calling NewObjective.
func NewObjective(sess *session.Session, numClasses int64, lr float64, freezeBackbone bool) (*Objective, error) {
	var opts []*nn.Optimizer
	for _, vs := range sess.Stores(freezeBackbone) {
		opt, err := nn.DefaultAdamConfig().Build(vs, lr)
		if err != nil {
			return nil, errors.Wrap(err, "trainer: build adam optimizer")
		}
		opts = append(opts, opt)
	}

	return &Objective{NumClasses: numClasses, opts: opts}, nil
}

// Compute returns the flattened logits [B*H*W C] and the scalar loss for
// scores and labels of identical shape [B C H W].
func (o *Objective) Compute(scores, labels *ts.Tensor) (logits, loss *ts.Tensor, err error) {
	if err := base.SameShape("trainer: scores vs labels", scores, labels); err != nil {
		return nil, nil, err
	}

	logits, err = metric.FlattenLogits(scores, o.NumClasses)
	if err != nil {
		return nil, nil, err
	}
	target, err := metric.FlattenLogits(labels, o.NumClasses)
	if err != nil {
		logits.MustDrop()
		return nil, nil, err
	}

	loss, err = metric.FlatCrossEntropy(logits, target)
	target.MustDrop()
	if err != nil {
		logits.MustDrop()
		return nil, nil, err
	}

	return logits, loss, nil
}

// Step runs one zero-grad, backward and Adam update at learning rate lr.
func (o *Objective) Step(loss *ts.Tensor, lr float64) {
	for _, opt := range o.opts {
		opt.SetLR(lr)
		opt.ZeroGrad()
	}
	loss.MustBackward()
	for _, opt := range o.opts {
		opt.Step()
	}
}
