package kitti

import (
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/trainer"
)

// roadThreshold is the softmax road probability above which a pixel is
// painted as road.
const roadThreshold = 0.5

// SaveInferenceSamples segments every testing image of dataDir and writes
// the overlays into a new timestamped folder below runsDir. It returns the
// folder path.
func SaveInferenceSamples(runsDir, dataDir string, model trainer.Segmenter, device gotch.Device, imageShape [2]int) (string, error) {
	files, err := testImages(dataDir)
	if err != nil {
		return "", err
	}

	outDir := filepath.Join(runsDir, fmt.Sprint(time.Now().Unix()))
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", errors.Wrap(err, "kitti: create output folder")
	}
	log.Printf("Training finished. Saving test images to: %v", outDir)

	for _, f := range files {
		img, err := readImage(f)
		if err != nil {
			return "", errors.Wrapf(err, "kitti: read %v", f)
		}
		resized := resizeImage(img, imageShape[1], imageShape[0])

		road, err := Predict(model, device, resized)
		if err != nil {
			return "", errors.Wrapf(err, "kitti: segment %v", f)
		}

		overlay, err := Overlay(resized, road)
		if err != nil {
			return "", err
		}
		if err := savePNG(filepath.Join(outDir, filepath.Base(f)), overlay); err != nil {
			return "", errors.Wrapf(err, "kitti: save overlay of %v", f)
		}
	}

	return outDir, nil
}

// Predict returns, per pixel of img, whether the road probability exceeds
// 0.5. Dropout is disabled.
func Predict(model trainer.Segmenter, device gotch.Device, img *image.NRGBA) ([]bool, error) {
	b := img.Bounds()
	h, w := int64(b.Dy()), int64(b.Dx())
	input := ts.MustOfSlice(imageToCHW(img)).MustView([]int64{1, 3, h, w}, true).MustTo(device, true)
	defer input.MustDrop()

	var (
		probs []float64
		err   error
	)
	ts.NoGrad(func() {
		var scores *ts.Tensor
		scores, err = model.Forward(input, 1.0, false)
		if err != nil {
			return
		}
		if size := scores.MustSize(); size[1] != NumClasses {
			scores.MustDrop()
			err = errors.Errorf("kitti: expected %v score channels, got %v", NumClasses, size)
			return
		}
		road := scores.MustSoftmax(1, gotch.Float, true).MustNarrow(1, 1, 1, true)
		probs = road.Float64Values()
		road.MustDrop()
	})
	if err != nil {
		return nil, err
	}

	mask := make([]bool, len(probs))
	for i, p := range probs {
		mask[i] = p > roadThreshold
	}
	return mask, nil
}
