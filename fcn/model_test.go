package fcn_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/exp/rand"

	"github.com/sugarme/fcnroad/base"
	"github.com/sugarme/fcnroad/encoder"
	"github.com/sugarme/fcnroad/fcn"
	"github.com/sugarme/fcnroad/session"
)

func features(batch int64, channels [3]int64, h3, w3 int64) *encoder.Features {
	return &encoder.Features{
		Layer3: ts.MustRand([]int64{batch, channels[0], h3, w3}, gotch.Float, gotch.CPU),
		Layer4: ts.MustRand([]int64{batch, channels[1], h3 / 2, w3 / 2}, gotch.Float, gotch.CPU),
		Layer7: ts.MustRand([]int64{batch, channels[2], h3 / 4, w3 / 4}, gotch.Float, gotch.CPU),
	}
}

func TestDecoderVGGShapes(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	channels := encoder.DefaultVGG16Config.Channels()
	dec := fcn.NewDecoder(vs.Root(), channels, 2, rand.NewSource(1))

	f := features(1, channels, 20, 72)
	defer f.Drop()

	out, err := dec.Forward(f)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 160, 576}, out.MustSize())
	out.MustDrop()
}

func TestDecoderScalesLayer3ByEight(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	channels := [3]int64{8, 8, 16}
	dec := fcn.NewDecoder(vs.Root(), channels, 3, rand.NewSource(1))
	require.Equal(t, int64(8), dec.Scale())

	for _, hw := range [][2]int64{{4, 4}, {8, 12}, {20, 72}} {
		f := features(2, channels, hw[0], hw[1])
		out, err := dec.Forward(f)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3, hw[0] * dec.Scale(), hw[1] * dec.Scale()}, out.MustSize())
		out.MustDrop()
		f.Drop()
	}
}

func TestDecoderSkipMismatch(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	channels := [3]int64{8, 8, 16}
	dec := fcn.NewDecoder(vs.Root(), channels, 2, rand.NewSource(1))

	f := &encoder.Features{
		Layer3: ts.MustRand([]int64{1, 8, 20, 72}, gotch.Float, gotch.CPU),
		Layer4: ts.MustRand([]int64{1, 8, 11, 36}, gotch.Float, gotch.CPU),
		Layer7: ts.MustRand([]int64{1, 16, 5, 18}, gotch.Float, gotch.CPU),
	}
	defer f.Drop()

	_, err := dec.Forward(f)
	require.Error(t, err)
	assert.True(t, errors.Is(err, base.ErrShapeMismatch))
}

func TestDecoderVariablesInHeadStore(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	fcn.NewDecoder(vs.Root().Sub("decoder"), [3]int64{8, 8, 16}, 2, rand.NewSource(1))

	vars := vs.Variables()
	assert.Len(t, vars, 12) // 6 layers, weight + bias each
	w := vars["decoder.score7.weight"]
	assert.Equal(t, []int64{2, 16, 1, 1}, w.MustSize())
	for _, v := range w.Float64Values() {
		assert.InDelta(t, 0, v, 2*fcn.InitStdev)
	}
}

func headWeights(seed uint64) map[string][]float64 {
	vs := nn.NewVarStore(gotch.CPU)
	fcn.NewDecoder(vs.Root(), [3]int64{8, 8, 16}, 2, rand.NewSource(seed))

	out := make(map[string][]float64)
	for name, v := range vs.Variables() {
		out[name] = v.Float64Values()
	}
	return out
}

func TestDecoderSeededInit(t *testing.T) {
	a := headWeights(5)
	assert.Equal(t, a, headWeights(5))
	assert.NotEqual(t, a["up3.weight"], headWeights(6)["up3.weight"])
}

func TestDecoderResNet34(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc := encoder.NewResNet34Encoder(vs.Root().Sub("encoder"))
	dec := fcn.NewDecoder(vs.Root().Sub("decoder"), encoder.ResNet34Channels, 2, rand.NewSource(1))

	x := ts.MustRand([]int64{1, 3, 64, 64}, gotch.Float, gotch.CPU)
	f := enc.ForwardAll(x, 1.0, false)
	out, err := dec.Forward(f)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 64, 64}, out.MustSize())

	out.MustDrop()
	f.Drop()
	x.MustDrop()
}

var tinyVGG = encoder.VGGConfig{
	Widths: [5]int64{4, 4, 8, 8, 8},
	FC:     16,
}

func TestFCN8Forward(t *testing.T) {
	encoder.Register("tiny-fcn", encoder.Arch{
		Channels: tinyVGG.Channels(),
		New:      func(p *nn.Path) encoder.Encoder { return encoder.NewVGGEncoder(p, tinyVGG) },
	})

	dir := t.TempDir()
	src := nn.NewVarStore(gotch.CPU)
	encoder.NewVGGEncoder(src.Root(), tinyVGG)
	require.NoError(t, src.Save(encoder.WeightFile(dir, "tiny-fcn")))

	sess := session.New(gotch.CPU, 1)
	bb, err := encoder.Load(sess, dir, "tiny-fcn", true)
	require.NoError(t, err)

	model := fcn.NewFCN8(sess, bb, 2)
	assert.Equal(t, int64(2), model.NumClasses())

	x := ts.MustRand([]int64{1, 3, 64, 96}, gotch.Float, gotch.CPU)
	out, err := model.Forward(x, 0.7, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 64, 96}, out.MustSize())
	out.MustDrop()

	// 72 is not divisible by 32: pooling floors and the layer3 skip diverges.
	bad := ts.MustRand([]int64{1, 3, 72, 96}, gotch.Float, gotch.CPU)
	_, err = model.Forward(bad, 1.0, false)
	assert.True(t, errors.Is(err, base.ErrShapeMismatch))

	x.MustDrop()
	bad.MustDrop()
}
