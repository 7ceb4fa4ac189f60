package encoder

import (
	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"
)

// Fixed handle names of a loaded backbone.
const (
	ImageInput = "image_input:0"
	KeepProb   = "keep_prob:0"
	Layer3Out  = "layer3_out:0"
	Layer4Out  = "layer4_out:0"
	Layer7Out  = "layer7_out:0"
)

// Encoder is encoder interface for a FCN segmentation model.
//
// ForwardAll returns the three tapped feature maps. keepProb is the dropout
// keep probability applied on the deepest stage when train is true.
type Encoder interface {
	ForwardAll(x *ts.Tensor, keepProb float64, train bool) *Features
}

// Features are the backbone taps, shallow to deep.
//
//	Layer3: stride 8  (stage-A)
//	Layer4: stride 16 (stage-B)
//	Layer7: stride 32 (stage-C)
type Features struct {
	Layer3 *ts.Tensor
	Layer4 *ts.Tensor
	Layer7 *ts.Tensor
}

// Get resolves a feature map by its handle name.
func (f *Features) Get(name string) (*ts.Tensor, error) {
	switch name {
	case Layer3Out:
		return f.Layer3, nil
	case Layer4Out:
		return f.Layer4, nil
	case Layer7Out:
		return f.Layer7, nil
	default:
		return nil, errors.Errorf("encoder: no feature map named %q", name)
	}
}

// Drop frees the feature tensors.
func (f *Features) Drop() {
	for _, x := range []*ts.Tensor{f.Layer3, f.Layer4, f.Layer7} {
		if x != nil {
			x.MustDrop()
		}
	}
}

func rgbNormalize(x *ts.Tensor) *ts.Tensor {
	meanVals := []float32{0.485, 0.456, 0.406} // image RGB mean
	sdVals := []float32{0.229, 0.224, 0.225}   // image RGB standard error

	device := x.MustDevice()
	mean := ts.MustOfSlice(meanVals).MustView([]int64{1, 3, 1, 1}, true).MustTo(device, true)
	sd := ts.MustOfSlice(sdVals).MustView([]int64{1, 3, 1, 1}, true).MustTo(device, true)

	// x = (x - mean)/sd
	n := x.MustSub(mean, false).MustDiv(sd, true)
	mean.MustDrop()
	sd.MustDrop()

	return n
}

// dropout zeroes activations with probability 1-keepProb during training.
func dropout(x *ts.Tensor, keepProb float64, train bool) *ts.Tensor {
	if !train || keepProb >= 1 {
		return x.MustShallowClone()
	}
	return ts.MustDropout(x, 1-keepProb, train)
}
