// Package kitti reads the KITTI road benchmark and renders predictions.
package kitti

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/dutil"
	"github.com/sugarme/fcnroad/session"
	"github.com/sugarme/fcnroad/trainer"
)

// NumClasses of the road labels: background and road.
const NumClasses = 2

// Relative dataset layout below the data directory.
const (
	TrainDir  = "data_road/training"
	TestDir   = "data_road/testing"
	imageDir  = "image_2"
	labelDir  = "gt_image_2"
	labelGlob = "*_road_*.png"
	imageGlob = "*.png"
)

var labelTag = regexp.MustCompile(`_(lane|road)_`)

// CheckDataset verifies the training and testing image folders exist and
// are not empty.
func CheckDataset(dataDir string) error {
	for _, dir := range []string{
		filepath.Join(dataDir, TrainDir, imageDir),
		filepath.Join(dataDir, TrainDir, labelDir),
		filepath.Join(dataDir, TestDir, imageDir),
	} {
		files, err := filepath.Glob(filepath.Join(dir, imageGlob))
		if err != nil {
			return errors.Wrapf(err, "kitti: glob %v", dir)
		}
		if len(files) == 0 {
			return errors.Errorf("kitti: no images found in %v", dir)
		}
	}
	return nil
}

// Sample is one decoded training pair.
type Sample struct {
	Image []float32 // [3 H W] in [0, 1]
	Label []float32 // [2 H W] one-hot
}

// RoadDataset implements dutil.Dataset over a KITTI training folder.
type RoadDataset struct {
	images []string
	labels []string
	height int
	width  int
}

// NewRoadDataset pairs every image in trainDir/image_2 with its ground
// truth in trainDir/gt_image_2 (um_000000.png -> um_road_000000.png).
// Samples are resized to imageShape [height, width].
func NewRoadDataset(trainDir string, imageShape [2]int) (*RoadDataset, error) {
	images, err := filepath.Glob(filepath.Join(trainDir, imageDir, imageGlob))
	if err != nil {
		return nil, errors.Wrap(err, "kitti: glob images")
	}
	if len(images) == 0 {
		return nil, errors.Errorf("kitti: no images in %v", filepath.Join(trainDir, imageDir))
	}
	sort.Strings(images)

	labelFiles, err := filepath.Glob(filepath.Join(trainDir, labelDir, labelGlob))
	if err != nil {
		return nil, errors.Wrap(err, "kitti: glob labels")
	}
	byImage := make(map[string]string, len(labelFiles))
	for _, l := range labelFiles {
		byImage[labelTag.ReplaceAllString(filepath.Base(l), "_")] = l
	}

	labels := make([]string, len(images))
	for i, img := range images {
		l, ok := byImage[filepath.Base(img)]
		if !ok {
			return nil, errors.Errorf("kitti: no ground truth for %v", img)
		}
		labels[i] = l
	}

	return &RoadDataset{
		images: images,
		labels: labels,
		height: imageShape[0],
		width:  imageShape[1],
	}, nil
}

// Len implements dutil.Dataset.
func (ds *RoadDataset) Len() int {
	return len(ds.images)
}

// Item implements dutil.Dataset. It returns a Sample.
func (ds *RoadDataset) Item(idx int) (interface{}, error) {
	img, err := readImage(ds.images[idx])
	if err != nil {
		return nil, err
	}
	gt, err := readImage(ds.labels[idx])
	if err != nil {
		return nil, err
	}

	return Sample{
		Image: imageToCHW(resizeImage(img, ds.width, ds.height)),
		Label: labelToOneHot(resizeLabel(gt, ds.width, ds.height)),
	}, nil
}

// BatchFn returns a batch source over ds. Every call is one pass; with
// shuffle each pass sees a new order. A seed of 0 shuffles differently on
// every run. Batches are built on the CPU.
func BatchFn(ds *RoadDataset, shuffle bool, seed int64) trainer.BatchSource {
	start := session.Seed(seed)
	pass := int64(0)
	return func(batchSize int, fn func(images, labels *ts.Tensor) error) error {
		s, err := dutil.NewBatchSampler(ds.Len(), batchSize, false, shuffle, start+pass)
		if err != nil {
			return err
		}
		pass++
		dl, err := dutil.NewDataLoader(ds, s)
		if err != nil {
			return err
		}

		for dl.HasNext() {
			items, err := dl.Next()
			if err != nil {
				return err
			}
			images, labels := ds.stack(items)
			err = fn(images, labels)
			images.MustDrop()
			labels.MustDrop()
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// stack concatenates samples into images [B 3 H W] and labels [B 2 H W].
func (ds *RoadDataset) stack(items []interface{}) (images, labels *ts.Tensor) {
	b := int64(len(items))
	h, w := int64(ds.height), int64(ds.width)

	var img, lbl []float32
	for _, it := range items {
		s := it.(Sample)
		img = append(img, s.Image...)
		lbl = append(lbl, s.Label...)
	}

	images = ts.MustOfSlice(img).MustView([]int64{b, 3, h, w}, true)
	labels = ts.MustOfSlice(lbl).MustView([]int64{b, NumClasses, h, w}, true)
	return images, labels
}

// testImages lists the images of the testing split.
func testImages(dataDir string) ([]string, error) {
	dir := filepath.Join(dataDir, TestDir, imageDir)
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.Wrap(err, "kitti: testing images")
	}
	files, err := filepath.Glob(filepath.Join(dir, imageGlob))
	if err != nil {
		return nil, errors.Wrap(err, "kitti: glob testing images")
	}
	sort.Strings(files)
	return files, nil
}
