package trainer

import (
	"fmt"
	"io"
	"log"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/metric"
)

// Segmenter produces per-pixel class scores [B C H W] for images [B 3 H W].
type Segmenter interface {
	Forward(image *ts.Tensor, keepProb float64, train bool) (*ts.Tensor, error)
}

// BatchSource streams one pass of (image, label) minibatches to fn.
// The source owns the tensors and may free them once fn returns.
type BatchSource func(batchSize int, fn func(images, labels *ts.Tensor) error) error

// Options captures the knobs required by the training loop.
type Options struct {
	Epochs       int
	BatchSize    int
	KeepProb     float64
	LearningRate float64
	Device       gotch.Device

	// OnEpochEnd is called after every epoch. Returning an error stops
	// training. Nil means every epoch runs to completion.
	OnEpochEnd func(epoch int, meanLoss float64) error
}

// Result summarizes a finished run.
type Result struct {
	Steps   int
	History *metric.History
	// Confusion of the training predictions of the last epoch.
	Confusion *metric.Confusion
}

// Train runs opts.Epochs full passes over source. Every minibatch is one
// forward, backward and update step, reported to w as
//
//	Epoch {i}/{epochs}... Training Loss: {loss:.4f}...
//
// Any step error aborts the run.
func Train(w io.Writer, model Segmenter, obj *Objective, source BatchSource, opts Options) (*Result, error) {
	if opts.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}

	res := &Result{History: &metric.History{}}

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		conf := metric.NewConfusion(int(obj.NumClasses))

		err := source(opts.BatchSize, func(images, labels *ts.Tensor) error {
			loss, err := step(model, obj, conf, images, labels, opts)
			if err != nil {
				return err
			}
			res.Steps++
			res.History.Record(epoch, res.Steps, loss)
			fmt.Fprintf(w, "Epoch %d/%d... Training Loss: %.4f...\n", epoch, opts.Epochs, loss)
			return nil
		})
		if err != nil {
			return res, errors.Wrapf(err, "trainer: epoch %d", epoch)
		}

		res.Confusion = conf
		meanLoss := res.History.EpochMean(epoch)
		log.Printf("epoch=%d mean_loss=%.4f pixel_acc=%.4f mean_iou=%.4f",
			epoch, meanLoss, conf.PixelAccuracy(), conf.MeanIoU())

		if opts.OnEpochEnd != nil {
			if err := opts.OnEpochEnd(epoch, meanLoss); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

func step(model Segmenter, obj *Objective, conf *metric.Confusion, images, labels *ts.Tensor, opts Options) (float64, error) {
	input := images.MustTo(opts.Device, false)
	target := labels.MustTo(opts.Device, false)
	defer input.MustDrop()
	defer target.MustDrop()

	scores, err := model.Forward(input, opts.KeepProb, true)
	if err != nil {
		return 0, err
	}
	defer scores.MustDrop()

	logits, loss, err := obj.Compute(scores, target)
	if err != nil {
		return 0, err
	}
	logits.MustDrop()

	obj.Step(loss, opts.LearningRate)
	lossVal := loss.Float64Values()[0]
	loss.MustDrop()

	detached := scores.MustDetach(false)
	err = conf.Add(detached, target)
	detached.MustDrop()
	if err != nil {
		return 0, err
	}

	return lossVal, nil
}
