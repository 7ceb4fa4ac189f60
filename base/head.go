package base

import "github.com/sugarme/gotch/nn"

// NewScoreProjection creates the 1x1 conv that projects a feature map to
// per-class scores. Weights come from wsInit, bias starts at zero.
func NewScoreProjection(p *nn.Path, cIn, numClasses int64, wsInit nn.Init) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.WsInit = wsInit
	config.BsInit = nn.NewConstInit(0.0)

	return nn.NewConv2D(p, cIn, numClasses, 1, config)
}
