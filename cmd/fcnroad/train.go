package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/config"
	"github.com/sugarme/fcnroad/encoder"
	"github.com/sugarme/fcnroad/fcn"
	"github.com/sugarme/fcnroad/kitti"
	"github.com/sugarme/fcnroad/session"
	"github.com/sugarme/fcnroad/trainer"
)

// buildModel loads the backbone and stacks the decoder head on it.
func buildModel(cfg *config.Config) (*session.Session, *fcn.FCN8, error) {
	if cfg.NumClasses != kitti.NumClasses {
		return nil, nil, errors.Errorf("KITTI road labels have %v classes, config has %v", kitti.NumClasses, cfg.NumClasses)
	}
	sess := session.New(Device, cfg.Seed)
	backbone, err := encoder.Load(sess, cfg.VGGDir, cfg.BackboneTag, cfg.FreezeBackbone)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("backbone %q loaded from %v (frozen=%v)\n", backbone.Tag, cfg.VGGDir, backbone.Frozen)

	return sess, fcn.NewFCN8(sess, backbone, cfg.NumClasses), nil
}

func runTrain(cfg *config.Config) error {
	if err := kitti.CheckDataset(cfg.DataDir); err != nil {
		return err
	}

	sess, model, err := buildModel(cfg)
	if err != nil {
		return err
	}

	obj, err := trainer.NewObjective(sess, cfg.NumClasses, cfg.LearningRate, cfg.FreezeBackbone)
	if err != nil {
		return err
	}

	ds, err := kitti.NewRoadDataset(filepath.Join(cfg.DataDir, kitti.TrainDir), cfg.ImageShape)
	if err != nil {
		return err
	}
	log.Printf("training on %v images, image shape %v\n", ds.Len(), cfg.ImageShape)

	res, err := trainer.Train(os.Stdout, model, obj, kitti.BatchFn(ds, true, cfg.Seed), trainer.Options{
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		KeepProb:     cfg.KeepProb,
		LearningRate: cfg.LearningRate,
		Device:       Device,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.RunsDir, 0755); err != nil {
		return errors.Wrap(err, "create runs folder")
	}
	if err := res.History.WriteCSV(filepath.Join(cfg.RunsDir, "loss.csv")); err != nil {
		return err
	}
	if err := res.History.PlotLoss(filepath.Join(cfg.RunsDir, "loss.png")); err != nil {
		return err
	}

	if cfg.SavePath != "" {
		if err := sess.Head.Save(absPath(cfg.SavePath)); err != nil {
			return errors.Wrap(err, "save head weights")
		}
		log.Printf("head weights saved to %v\n", cfg.SavePath)
	}

	_, err = kitti.SaveInferenceSamples(cfg.RunsDir, cfg.DataDir, model, Device, cfg.ImageShape)
	return err
}

// runInfer restores trained head weights from cfg.SavePath and writes
// overlays of the testing images.
func runInfer(cfg *config.Config) error {
	if cfg.SavePath == "" {
		return errors.New("infer needs a trained head: set save_path or -save")
	}

	sess, model, err := buildModel(cfg)
	if err != nil {
		return err
	}
	if err := sess.RestoreHead(absPath(cfg.SavePath)); err != nil {
		return err
	}

	_, err = kitti.SaveInferenceSamples(cfg.RunsDir, cfg.DataDir, model, Device, cfg.ImageShape)
	return err
}

// runCheckModel runs a random image through the network and prints the
// score shape.
func runCheckModel(cfg *config.Config) error {
	_, model, err := buildModel(cfg)
	if err != nil {
		return err
	}

	h, w := int64(cfg.ImageShape[0]), int64(cfg.ImageShape[1])
	x := ts.MustRand([]int64{1, 3, h, w}, gotch.Float, Device)
	defer x.MustDrop()

	var out *ts.Tensor
	ts.NoGrad(func() {
		out, err = model.Forward(x, 1.0, false)
	})
	if err != nil {
		return err
	}
	log.Printf("input %v -> scores %v\n", x.MustSize(), out.MustSize())
	out.MustDrop()
	return nil
}
