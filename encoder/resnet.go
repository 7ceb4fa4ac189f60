package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// ResNetConfig lists the number of basic residual blocks of each stage.
type ResNetConfig struct {
	Blocks [4]int
}

var (
	ResNet18Config = ResNetConfig{Blocks: [4]int{2, 2, 2, 2}}
	ResNet34Config = ResNetConfig{Blocks: [4]int{3, 4, 6, 3}}
)

// stage widths shared by resnet18 and resnet34
var resnetWidths = [4]int64{64, 128, 256, 512}

// ResNet34Channels are the channel counts of the stride 8, 16 and 32 taps
// (torchvision layer2, layer3 and layer4). ResNet18 has the same.
var ResNet34Channels = [3]int64{resnetWidths[1], resnetWidths[2], resnetWidths[3]}

// ResNetEncoder taps a basic-block ResNet at strides 8, 16 and 32.
type ResNetEncoder struct {
	stem   ts.ModuleT    // conv1, bn1, relu, maxpool: stride 4
	stages [4]ts.ModuleT // layer1 ... layer4
}

// ForwardAll implements Encoder interface for ResNetEncoder.
// keepProb applies to the stride-32 output, which has no dropout of its own.
func (e *ResNetEncoder) ForwardAll(x *ts.Tensor, keepProb float64, train bool) *Features {
	xn := rgbNormalize(x)
	h := e.stem.ForwardT(xn, train) // [B 64 H/4 W/4]
	xn.MustDrop()

	x1 := e.stages[0].ForwardT(h, train) // [B  64 H/4  W/4 ]
	h.MustDrop()
	x2 := e.stages[1].ForwardT(x1, train) // [B 128 H/8  W/8 ]
	x1.MustDrop()
	x3 := e.stages[2].ForwardT(x2, train) // [B 256 H/16 W/16]
	x4 := e.stages[3].ForwardT(x3, train) // [B 512 H/32 W/32]

	top := dropout(x4, keepProb, train)
	x4.MustDrop()

	return &Features{Layer3: x2, Layer4: x3, Layer7: top}
}

// NewResNet34Encoder creates a ResNet34 encoder. Variable names match the
// torchvision weights, so an ImageNet bundle loads directly.
func NewResNet34Encoder(p *nn.Path) *ResNetEncoder {
	return NewResNetEncoder(p, ResNet34Config)
}

// NewResNetEncoder creates a basic-block ResNet with cfg.Blocks per stage.
func NewResNetEncoder(p *nn.Path, cfg ResNetConfig) *ResNetEncoder {
	e := &ResNetEncoder{stem: resnetStem(p)}

	cIn := resnetWidths[0]
	for i, n := range cfg.Blocks {
		stride := int64(2)
		if i == 0 {
			stride = 1
		}
		e.stages[i] = resnetStage(p.Sub(fmt.Sprintf("layer%d", i+1)), cIn, resnetWidths[i], stride, n)
		cIn = resnetWidths[i]
	}

	return e
}

// resnetStem keeps conv1 and bn1 at the path root as in torchvision.
func resnetStem(p *nn.Path) ts.ModuleT {
	stem := nn.SeqT()
	stem.Add(convBN(p.Sub("conv1"), p.Sub("bn1"), 3, resnetWidths[0], 7, 2))
	stem.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))
	stem.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustMaxPool2d([]int64{3, 3}, []int64{2, 2}, []int64{1, 1}, []int64{1, 1}, false, false)
	}))

	return stem
}

func resnetStage(p *nn.Path, cIn, cOut, stride int64, blocks int) ts.ModuleT {
	stage := nn.SeqT()
	for i := 0; i < blocks; i++ {
		stage.Add(newResidual(p.Sub(fmt.Sprint(i)), cIn, cOut, stride))
		cIn, stride = cOut, 1
	}

	return stage
}

// conv2dBN is a bias-free conv followed by batch norm.
type conv2dBN struct {
	conv *nn.Conv2D
	bn   *nn.BatchNorm
}

// convBN builds a bias-free k x k conv (padding k/2) under convPath and its
// batch norm under bnPath.
func convBN(convPath, bnPath *nn.Path, cIn, cOut, ksize, stride int64) *conv2dBN {
	config := nn.DefaultConv2DConfig()
	config.Bias = false
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{ksize / 2, ksize / 2}

	return &conv2dBN{
		conv: nn.NewConv2D(convPath, cIn, cOut, ksize, config),
		bn:   nn.BatchNorm2D(bnPath, cOut, nn.DefaultBatchNormConfig()),
	}
}

// ForwardT implements ts.ModuleT.
func (m *conv2dBN) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c := m.conv.ForwardT(x, train)
	out := m.bn.ForwardT(c, train)
	c.MustDrop()
	return out
}

// residual is a basic block: two 3x3 conv+bn with an identity or 1x1
// projection shortcut.
type residual struct {
	first    *conv2dBN
	second   *conv2dBN
	shortcut *conv2dBN // nil for identity
}

func newResidual(p *nn.Path, cIn, cOut, stride int64) *residual {
	r := &residual{
		first:  convBN(p.Sub("conv1"), p.Sub("bn1"), cIn, cOut, 3, stride),
		second: convBN(p.Sub("conv2"), p.Sub("bn2"), cOut, cOut, 3, 1),
	}
	if stride != 1 || cIn != cOut {
		ds := p.Sub("downsample")
		r.shortcut = convBN(ds.Sub("0"), ds.Sub("1"), cIn, cOut, 1, stride)
	}

	return r
}

// ForwardT implements ts.ModuleT.
func (r *residual) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	h := r.first.ForwardT(x, train).MustRelu(true)
	out := r.second.ForwardT(h, train)
	h.MustDrop()

	if r.shortcut != nil {
		s := r.shortcut.ForwardT(x, train)
		out = out.MustAdd(s, true)
		s.MustDrop()
	} else {
		out = out.MustAdd(x, true)
	}

	return out.MustRelu(true)
}
