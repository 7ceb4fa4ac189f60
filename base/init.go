package base

import (
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// truncation bound in standard deviations. Samples outside are redrawn.
const truncBound = 2.0

// TruncatedNormalInit draws weights from a normal distribution and redraws
// any sample further than two standard deviations from the mean.
//
// Src is the random source. A nil Src draws from the global source, so only
// an explicit Src makes weights reproducible.
type TruncatedNormalInit struct {
	Mean  float64
	Stdev float64
	Src   rand.Source
}

var _ nn.Init = (*TruncatedNormalInit)(nil)

// NewTruncatedNormalInit creates a TruncatedNormalInit drawing from src.
func NewTruncatedNormalInit(mean, stdev float64, src rand.Source) *TruncatedNormalInit {
	return &TruncatedNormalInit{Mean: mean, Stdev: stdev, Src: src}
}

// Sample returns n values from the truncated distribution.
func (i *TruncatedNormalInit) Sample(n int) []float32 {
	dist := distuv.Normal{Mu: i.Mean, Sigma: i.Stdev, Src: i.Src}
	lo := i.Mean - truncBound*i.Stdev
	hi := i.Mean + truncBound*i.Stdev

	vals := make([]float32, n)
	for j := range vals {
		v := dist.Rand()
		for v < lo || v > hi {
			v = dist.Rand()
		}
		vals[j] = float32(v)
	}

	return vals
}

// InitTensor implements nn.Init.
func (i *TruncatedNormalInit) InitTensor(dims []int64, device gotch.Device) *ts.Tensor {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}

	x := ts.MustOfSlice(i.Sample(int(n))).MustView(dims, true)
	if device != gotch.CPU {
		x = x.MustTo(device, true)
	}

	return x
}

// Set implements nn.Init. It re-initializes tensor in place.
func (i *TruncatedNormalInit) Set(tensor *ts.Tensor) {
	dims := tensor.MustSize()
	vals := i.InitTensor(dims, tensor.MustDevice())
	ts.NoGrad(func() {
		tensor.Copy_(vals)
	})
	vals.MustDrop()
}
