package metric

import (
	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/base"
)

// Confusion is a per-class pixel confusion matrix. Rows are labels,
// columns predictions.
type Confusion struct {
	NumClasses int
	Counts     [][]int64
}

// NewConfusion creates an empty confusion matrix.
func NewConfusion(numClasses int) *Confusion {
	counts := make([][]int64, numClasses)
	for i := range counts {
		counts[i] = make([]int64, numClasses)
	}
	return &Confusion{NumClasses: numClasses, Counts: counts}
}

// Add accumulates argmax predictions of scores against one-hot labels,
// both [B C H W].
func (c *Confusion) Add(scores, labels *ts.Tensor) error {
	if err := base.SameShape("metric: scores vs labels", scores, labels); err != nil {
		return err
	}
	nc := int64(c.NumClasses)
	logits, err := FlattenLogits(scores, nc)
	if err != nil {
		return err
	}
	target, err := FlattenLogits(labels, nc)
	if err != nil {
		logits.MustDrop()
		return err
	}

	pred := argmax(logits.Float64Values(), c.NumClasses)
	truth := argmax(target.Float64Values(), c.NumClasses)
	logits.MustDrop()
	target.MustDrop()

	for i := range pred {
		c.Counts[truth[i]][pred[i]]++
	}
	return nil
}

// PixelAccuracy is the share of correctly classified pixels.
func (c *Confusion) PixelAccuracy() float64 {
	var hit, total int64
	for i, row := range c.Counts {
		for j, n := range row {
			if i == j {
				hit += n
			}
			total += n
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hit) / float64(total)
}

// IoU returns intersection over union of one class.
func (c *Confusion) IoU(class int) (float64, error) {
	if class < 0 || class >= c.NumClasses {
		return 0, errors.Errorf("metric: class %v out of range [0, %v)", class, c.NumClasses)
	}
	tp := c.Counts[class][class]
	var fp, fn int64
	for k := 0; k < c.NumClasses; k++ {
		if k == class {
			continue
		}
		fp += c.Counts[k][class]
		fn += c.Counts[class][k]
	}
	union := tp + fp + fn
	if union == 0 {
		return 0, nil
	}
	return float64(tp) / float64(union), nil
}

// Dice returns the Dice coefficient 2TP/(2TP+FP+FN) of one class.
func (c *Confusion) Dice(class int) (float64, error) {
	iou, err := c.IoU(class)
	if err != nil {
		return 0, err
	}
	return 2 * iou / (1 + iou), nil
}

// MeanIoU averages IoU over all classes.
func (c *Confusion) MeanIoU() float64 {
	var sum float64
	for k := 0; k < c.NumClasses; k++ {
		iou, _ := c.IoU(k)
		sum += iou
	}
	return sum / float64(c.NumClasses)
}

// argmax of each row of a row-major [n/cols cols] matrix.
func argmax(vals []float64, cols int) []int {
	rows := len(vals) / cols
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := vals[r*cols : (r+1)*cols]
		best := 0
		for k := 1; k < cols; k++ {
			if row[k] > row[best] {
				best = k
			}
		}
		out[r] = best
	}
	return out
}
