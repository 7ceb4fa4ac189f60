package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/base"
)

// VGGConfig describes the widths of a VGG16 feature extractor.
type VGGConfig struct {
	Widths [5]int64 // output channels of the five conv blocks
	FC     int64    // channels of fc6/fc7 as convolutions
}

// DefaultVGG16Config is the ImageNet VGG16 layout.
var DefaultVGG16Config = VGGConfig{
	Widths: [5]int64{64, 128, 256, 512, 512},
	FC:     4096,
}

// Channels returns the channel counts of layer3, layer4 and layer7.
func (c VGGConfig) Channels() [3]int64 {
	return [3]int64{c.Widths[2], c.Widths[3], c.FC}
}

// VGG16Encoder is a fully convolutional VGG16: fc6 and fc7 are convs so the
// network accepts any input size divisible by 32.
type VGG16Encoder struct {
	block1 ts.ModuleT
	block2 ts.ModuleT
	block3 ts.ModuleT
	block4 ts.ModuleT
	block5 ts.ModuleT
	fc6    ts.ModuleT
	fc7    ts.ModuleT
}

// ForwardAll implements Encoder interface for VGG16Encoder.
func (e *VGG16Encoder) ForwardAll(x *ts.Tensor, keepProb float64, train bool) *Features {
	xn := rgbNormalize(x)
	x1 := e.block1.ForwardT(xn, train) // [B  64 H/2  W/2 ]
	xn.MustDrop()
	x2 := e.block2.ForwardT(x1, train) // [B 128 H/4  W/4 ]
	x1.MustDrop()
	x3 := e.block3.ForwardT(x2, train) // [B 256 H/8  W/8 ]
	x2.MustDrop()
	x4 := e.block4.ForwardT(x3, train) // [B 512 H/16 W/16]
	x5 := e.block5.ForwardT(x4, train) // [B 512 H/32 W/32]

	f6 := e.fc6.ForwardT(x5, train)
	x5.MustDrop()
	d6 := dropout(f6, keepProb, train)
	f6.MustDrop()
	f7 := e.fc7.ForwardT(d6, train)
	d6.MustDrop()
	x7 := dropout(f7, keepProb, train) // [B 4096 H/32 W/32]
	f7.MustDrop()

	return &Features{Layer3: x3, Layer4: x4, Layer7: x7}
}

// NewVGG16Encoder creates VGG16Encoder with the ImageNet layout.
func NewVGG16Encoder(p *nn.Path) *VGG16Encoder {
	return NewVGGEncoder(p, DefaultVGG16Config)
}

// NewVGGEncoder creates a VGG16-shaped encoder with the given widths.
// Variable names follow the FCN convention: conv1_1 ... conv5_3, fc6, fc7.
func NewVGGEncoder(p *nn.Path, cfg VGGConfig) *VGG16Encoder {
	w := cfg.Widths
	return &VGG16Encoder{
		block1: vggBlock(p, 1, 3, w[0], 2),
		block2: vggBlock(p, 2, w[0], w[1], 2),
		block3: vggBlock(p, 3, w[1], w[2], 3),
		block4: vggBlock(p, 4, w[2], w[3], 3),
		block5: vggBlock(p, 5, w[3], w[4], 3),
		fc6:    base.Conv2dRelu(p.Sub("fc6"), w[4], cfg.FC, 7, 3, 1),
		fc7:    base.Conv2dRelu(p.Sub("fc7"), cfg.FC, cfg.FC, 1, 0, 1),
	}
}

// vggBlock stacks cnt conv+relu layers followed by a 2x2 max pool.
func vggBlock(p *nn.Path, idx int, cIn, cOut int64, cnt int) ts.ModuleT {
	block := nn.SeqT()
	for i := 1; i <= cnt; i++ {
		block.Add(base.Conv2dRelu(p.Sub(fmt.Sprintf("conv%d_%d", idx, i)), cIn, cOut, 3, 1, 1))
		cIn = cOut
	}
	block.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustMaxPool2d([]int64{2, 2}, []int64{2, 2}, []int64{0, 0}, []int64{1, 1}, false, false)
	}))

	return block
}
