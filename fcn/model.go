package fcn

import (
	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/encoder"
	"github.com/sugarme/fcnroad/session"
)

// FCN8 is a FCN-8s segmentation network: a pretrained backbone with the
// Decoder head on top.
// Ref: https://arxiv.org/abs/1411.4038
type FCN8 struct {
	backbone *encoder.Backbone
	decoder  *Decoder
}

// NewFCN8 builds the decoder head in the session's head variable store on
// top of a loaded backbone, initialised from the session's random source.
func NewFCN8(sess *session.Session, backbone *encoder.Backbone, numClasses int64) *FCN8 {
	dec := NewDecoder(sess.Head.Root().Sub("decoder"), backbone.Channels, numClasses, sess.Src)
	return &FCN8{
		backbone: backbone,
		decoder:  dec,
	}
}

// NumClasses returns the number of score channels.
func (m *FCN8) NumClasses() int64 {
	return m.decoder.NumClasses
}

// Forward returns per-pixel class scores [B C H W] for image [B 3 H W].
// H and W must be divisible by 32.
func (m *FCN8) Forward(image *ts.Tensor, keepProb float64, train bool) (*ts.Tensor, error) {
	features := m.backbone.Forward(image, keepProb, train)
	scores, err := m.decoder.Forward(features)
	features.Drop()
	if err != nil {
		return nil, errors.Wrapf(err, "fcn: input %v", image.MustSize())
	}

	return scores, nil
}
