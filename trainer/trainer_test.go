package trainer_test

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/base"
	"github.com/sugarme/fcnroad/encoder"
	"github.com/sugarme/fcnroad/fcn"
	"github.com/sugarme/fcnroad/session"
	"github.com/sugarme/fcnroad/trainer"
)

// convNet is a single 1x1 conv segmenter.
type convNet struct {
	conv *nn.Conv2D
}

func newConvNet(sess *session.Session) *convNet {
	return &convNet{conv: base.NewScoreProjection(sess.Head.Root().Sub("score"), 3, 2, base.NewTruncatedNormalInit(0, 0.1, sess.Src))}
}

func (m *convNet) Forward(x *ts.Tensor, keepProb float64, train bool) (*ts.Tensor, error) {
	return m.conv.Forward(x), nil
}

// labels returns [b 2 h w] one-hot labels, road on the left half.
func labels(b, h, w int64) *ts.Tensor {
	n := b * h * w
	vals := make([]float32, 2*n)
	for bi := int64(0); bi < b; bi++ {
		for y := int64(0); y < h; y++ {
			for x := int64(0); x < w; x++ {
				bg := bi*2*h*w + y*w + x
				road := bg + h*w
				if x < w/2 {
					vals[road] = 1
				} else {
					vals[bg] = 1
				}
			}
		}
	}
	return ts.MustOfSlice(vals).MustView([]int64{b, 2, h, w}, true)
}

func fixedSource(n int) trainer.BatchSource {
	return func(batchSize int, fn func(images, labels *ts.Tensor) error) error {
		for i := 0; i < n; i++ {
			img := ts.MustRand([]int64{int64(batchSize), 3, 4, 4}, gotch.Float, gotch.CPU)
			lbl := labels(int64(batchSize), 4, 4)
			err := fn(img, lbl)
			img.MustDrop()
			lbl.MustDrop()
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func snapshot(vs *nn.VarStore) map[string][]float64 {
	out := make(map[string][]float64)
	for name, v := range vs.Variables() {
		out[name] = v.Float64Values()
	}
	return out
}

func changed(before, after map[string][]float64) bool {
	for name, vals := range before {
		for i := range vals {
			if vals[i] != after[name][i] {
				return true
			}
		}
	}
	return false
}

func TestObjectiveStepChangesParameters(t *testing.T) {
	sess := session.New(gotch.CPU, 1)
	model := newConvNet(sess)
	obj, err := trainer.NewObjective(sess, 2, 0.01, true)
	require.NoError(t, err)

	img := ts.MustRand([]int64{2, 3, 4, 4}, gotch.Float, gotch.CPU)
	lbl := labels(2, 4, 4)

	before := snapshot(sess.Head)
	scores, err := model.Forward(img, 1, true)
	require.NoError(t, err)
	logits, loss, err := obj.Compute(scores, lbl)
	require.NoError(t, err)
	assert.Equal(t, []int64{2 * 4 * 4, 2}, logits.MustSize())

	obj.Step(loss, 0.01)
	assert.True(t, changed(before, snapshot(sess.Head)))

	img.MustDrop()
	lbl.MustDrop()
	scores.MustDrop()
	logits.MustDrop()
	loss.MustDrop()
}

func TestObjectiveShapeMismatch(t *testing.T) {
	sess := session.New(gotch.CPU, 1)
	newConvNet(sess)
	obj, err := trainer.NewObjective(sess, 2, 0.01, true)
	require.NoError(t, err)

	scores := ts.MustZeros([]int64{1, 2, 160, 576}, gotch.Float, gotch.CPU)
	lbl := ts.MustZeros([]int64{1, 3, 160, 576}, gotch.Float, gotch.CPU)
	_, _, err = obj.Compute(scores, lbl)
	assert.True(t, errors.Is(err, base.ErrShapeMismatch))

	scores.MustDrop()
	lbl.MustDrop()
}

var tinyVGG = encoder.VGGConfig{
	Widths: [5]int64{4, 4, 8, 8, 8},
	FC:     16,
}

func tinyFCN(t *testing.T, freeze bool) (*session.Session, *fcn.FCN8) {
	encoder.Register("tiny-trainer", encoder.Arch{
		Channels: tinyVGG.Channels(),
		New:      func(p *nn.Path) encoder.Encoder { return encoder.NewVGGEncoder(p, tinyVGG) },
	})
	dir := t.TempDir()
	src := nn.NewVarStore(gotch.CPU)
	encoder.NewVGGEncoder(src.Root(), tinyVGG)
	require.NoError(t, src.Save(encoder.WeightFile(dir, "tiny-trainer")))

	sess := session.New(gotch.CPU, 1)
	bb, err := encoder.Load(sess, dir, "tiny-trainer", freeze)
	require.NoError(t, err)

	return sess, fcn.NewFCN8(sess, bb, 2)
}

func TestFreezeBackbone(t *testing.T) {
	for _, freeze := range []bool{true, false} {
		sess, model := tinyFCN(t, freeze)
		obj, err := trainer.NewObjective(sess, 2, 0.01, freeze)
		require.NoError(t, err)

		headBefore := snapshot(sess.Head)
		backboneBefore := snapshot(sess.Backbone)

		img := ts.MustRand([]int64{1, 3, 32, 32}, gotch.Float, gotch.CPU)
		lbl := labels(1, 32, 32)
		scores, err := model.Forward(img, 0.7, true)
		require.NoError(t, err)
		logits, loss, err := obj.Compute(scores, lbl)
		require.NoError(t, err)
		obj.Step(loss, 0.01)

		assert.True(t, changed(headBefore, snapshot(sess.Head)), "head freeze=%v", freeze)
		assert.Equal(t, !freeze, changed(backboneBefore, snapshot(sess.Backbone)), "backbone freeze=%v", freeze)

		img.MustDrop()
		lbl.MustDrop()
		scores.MustDrop()
		logits.MustDrop()
		loss.MustDrop()
	}
}

func TestTrainStepsAndProgressLines(t *testing.T) {
	sess := session.New(gotch.CPU, 1)
	model := newConvNet(sess)
	obj, err := trainer.NewObjective(sess, 2, 0.0001, true)
	require.NoError(t, err)

	var epochsSeen []int
	var buf bytes.Buffer
	res, err := trainer.Train(&buf, model, obj, fixedSource(3), trainer.Options{
		Epochs:       2,
		BatchSize:    2,
		KeepProb:     0.70,
		LearningRate: 0.0001,
		Device:       gotch.CPU,
		OnEpochEnd: func(epoch int, meanLoss float64) error {
			epochsSeen = append(epochsSeen, epoch)
			assert.Greater(t, meanLoss, 0.0)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 6, res.Steps)
	assert.Equal(t, 6, res.History.Len())
	assert.Equal(t, []int{0, 1}, epochsSeen)
	require.NotNil(t, res.Confusion)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	re := regexp.MustCompile(`^Epoch [01]/2\.\.\. Training Loss: \d+\.\d{4}\.\.\.$`)
	for _, l := range lines {
		assert.Regexp(t, re, l)
	}
	assert.True(t, strings.HasPrefix(lines[0], "Epoch 0/2..."))
	assert.True(t, strings.HasPrefix(lines[5], "Epoch 1/2..."))
}

type failingNet struct{}

func (failingNet) Forward(x *ts.Tensor, keepProb float64, train bool) (*ts.Tensor, error) {
	return nil, errors.New("boom")
}

func TestTrainAbortsOnError(t *testing.T) {
	sess := session.New(gotch.CPU, 1)
	newConvNet(sess)
	obj, err := trainer.NewObjective(sess, 2, 0.0001, true)
	require.NoError(t, err)

	opts := trainer.Options{Epochs: 2, BatchSize: 1, KeepProb: 0.7, LearningRate: 0.0001, Device: gotch.CPU}

	var buf bytes.Buffer
	res, err := trainer.Train(&buf, failingNet{}, obj, fixedSource(3), opts)
	assert.Error(t, err)
	assert.Equal(t, 0, res.Steps)
	assert.Empty(t, buf.String())

	srcErr := func(batchSize int, fn func(images, labels *ts.Tensor) error) error {
		return errors.New("disk gone")
	}
	_, err = trainer.Train(&buf, newConvNet(session.New(gotch.CPU, 1)), obj, srcErr, opts)
	assert.Error(t, err)

	opts.Epochs = 0
	_, err = trainer.Train(&buf, failingNet{}, obj, fixedSource(1), opts)
	assert.Error(t, err)
}

func TestTrainStopsFromHook(t *testing.T) {
	sess := session.New(gotch.CPU, 1)
	model := newConvNet(sess)
	obj, err := trainer.NewObjective(sess, 2, 0.0001, true)
	require.NoError(t, err)

	stop := errors.New("stop")
	var buf bytes.Buffer
	res, err := trainer.Train(&buf, model, obj, fixedSource(2), trainer.Options{
		Epochs: 5, BatchSize: 1, KeepProb: 0.7, LearningRate: 0.0001, Device: gotch.CPU,
		OnEpochEnd: func(epoch int, meanLoss float64) error { return stop },
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 2, res.Steps)
}
