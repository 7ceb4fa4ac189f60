package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Conv2d creates Conv2D module.
func Conv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// Conv2dRelu creates a SequentialT composing of a biased Conv2D and a ReLU
// activation. The conv keeps its weights at the path root so that
// pretrained VGG bundles ("conv1_1.weight", ...) load as-is.
func Conv2dRelu(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv2d(p, cIn, cOut, ksize, padding, stride))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}

// SamePadding returns padding and output padding for a transposed conv so
// that output size is exactly stride times the input size.
//
// Torch output = (in-1)*s - 2p + k + op, so we need 2p - op = k - s.
func SamePadding(ksize, stride int64) (padding, outPadding int64) {
	diff := ksize - stride
	if diff <= 0 {
		return 0, -diff
	}
	padding = (diff + 1) / 2
	outPadding = 2*padding - diff

	return padding, outPadding
}

// Upsample creates a learned ConvTranspose2D with SAME padding semantics.
// Output spatial size is stride times the input. Weights come from wsInit,
// bias starts at zero.
//
// Input and output channels are equal: nn.NewConvTranspose2D allocates the
// weight as [out in k k] while libtorch reads it as [in out k k].
func Upsample(p *nn.Path, channels, ksize, stride int64, wsInit nn.Init) *nn.ConvTranspose2D {
	pad, outPad := SamePadding(ksize, stride)

	config := &nn.ConvTranspose2DConfig{
		Stride:        []int64{stride, stride},
		Padding:       []int64{pad, pad},
		OutputPadding: []int64{outPad, outPad},
		Dilation:      []int64{1, 1},
		Groups:        1,
		Bias:          true,
		WsInit:        wsInit,
		BsInit:        nn.NewConstInit(0.0),
	}

	return nn.NewConvTranspose2D(p, channels, channels, []int64{ksize, ksize}, config)
}
