package fcn

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/exp/rand"

	"github.com/sugarme/fcnroad/base"
	"github.com/sugarme/fcnroad/encoder"
)

// InitStdev is the stdev of the truncated normal used for every head weight.
const InitStdev = 0.01

// Upsampling factor of each transposed conv. Their product equals the
// backbone downsampling factor of 32.
const (
	up7Stride = 2
	up4Stride = 2
	up3Stride = 8
)

// Decoder is the FCN-8s head: three score projections, three learned
// upsamplings and two skip additions.
type Decoder struct {
	NumClasses int64

	score7 *nn.Conv2D
	score4 *nn.Conv2D
	score3 *nn.Conv2D
	up7    *nn.ConvTranspose2D
	up4    *nn.ConvTranspose2D
	up3    *nn.ConvTranspose2D
}

// NewDecoder creates a Decoder under p for feature maps with the given
// layer3, layer4 and layer7 channel counts. All weights are drawn from src
// in a fixed order, so the same seed gives the same head.
func NewDecoder(p *nn.Path, channels [3]int64, numClasses int64, src rand.Source) *Decoder {
	c := numClasses
	wsInit := base.NewTruncatedNormalInit(0, InitStdev, src)
	return &Decoder{
		NumClasses: numClasses,
		score7:     base.NewScoreProjection(p.Sub("score7"), channels[2], c, wsInit),
		score4:     base.NewScoreProjection(p.Sub("score4"), channels[1], c, wsInit),
		score3:     base.NewScoreProjection(p.Sub("score3"), channels[0], c, wsInit),
		up7:        base.Upsample(p.Sub("up7"), c, 4, up7Stride, wsInit),
		up4:        base.Upsample(p.Sub("up4"), c, 4, up4Stride, wsInit),
		up3:        base.Upsample(p.Sub("up3"), c, 16, up3Stride, wsInit),
	}
}

// Scale is the total upsampling factor from layer3 to the output.
func (d *Decoder) Scale() int64 {
	return up3Stride
}

// Forward returns per-pixel class scores of shape
// [B NumClasses 8*H3 8*W3] where H3, W3 are the layer3 spatial dims.
//
// A skip addition whose operands differ in shape returns an error wrapping
// base.ErrShapeMismatch.
func (d *Decoder) Forward(f *encoder.Features) (*ts.Tensor, error) {
	s7 := d.score7.Forward(f.Layer7) // [B C H/32 W/32]
	u7 := d.up7.Forward(s7)          // [B C H/16 W/16]
	s7.MustDrop()

	s4 := d.score4.Forward(f.Layer4) // [B C H/16 W/16]
	if err := base.SameShape("layer4 skip", u7, s4); err != nil {
		u7.MustDrop()
		s4.MustDrop()
		return nil, err
	}
	skip4 := u7.MustAdd(s4, true)
	s4.MustDrop()

	u4 := d.up4.Forward(skip4) // [B C H/8 W/8]
	skip4.MustDrop()

	s3 := d.score3.Forward(f.Layer3) // [B C H/8 W/8]
	if err := base.SameShape("layer3 skip", u4, s3); err != nil {
		u4.MustDrop()
		s3.MustDrop()
		return nil, err
	}
	skip3 := u4.MustAdd(s3, true)
	s3.MustDrop()

	out := d.up3.Forward(skip3) // [B C H W]
	skip3.MustDrop()

	return out, nil
}
