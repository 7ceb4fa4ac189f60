package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strconv"

	"github.com/sugarme/gotch"

	"github.com/sugarme/fcnroad/config"
)

// flag variables
var (
	ConfigPath string
	Cuda       bool
	task       string
	Device     gotch.Device
)

// CLI overrides of the config file
var (
	overrides config.Overrides
	freeze    string
)

func init() {
	flag.StringVar(&ConfigPath, "config", "", "specify YAML config file. Defaults are used when empty.")
	flag.BoolVar(&Cuda, "cuda", false, "specify whether using CUDA or not.")
	flag.StringVar(&task, "task", "train", "specify task to run: train, infer or model")
	flag.IntVar(&overrides.Epochs, "epochs", 0, "specify number of epochs")
	flag.IntVar(&overrides.BatchSize, "batch", 0, "specify batch size")
	flag.Float64Var(&overrides.LearningRate, "lr", 0, "specify learning rate")
	flag.Float64Var(&overrides.KeepProb, "keep", 0, "specify dropout keep probability")
	flag.StringVar(&overrides.BackboneTag, "backbone", "", "specify backbone tag (vgg16, resnet34)")
	flag.StringVar(&overrides.DataDir, "data", "", "specify data directory holding data_road/")
	flag.StringVar(&overrides.VGGDir, "weights", "", "specify directory of pretrained '<tag>.ot' files")
	flag.StringVar(&overrides.RunsDir, "runs", "", "specify output directory for inference samples")
	flag.StringVar(&overrides.SavePath, "save", "", "specify path to save trained head weights")
	flag.Int64Var(&overrides.Seed, "seed", 0, "specify random seed for head init and shuffling")
	flag.StringVar(&freeze, "freeze", "", "specify whether to freeze the backbone (true/false)")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	Device = gotch.CPU
	if Cuda || cfg.Cuda {
		Device = gotch.NewCuda().CudaIfAvailable()
	}
	if Device == gotch.CPU {
		log.Println("No GPU found. Training runs on CPU.")
	}

	switch task {
	case "model":
		err = runCheckModel(cfg)
	case "train":
		err = runTrain(cfg)
	case "infer":
		err = runInfer(cfg)
	default:
		err = fmt.Errorf("Unknown 'task' name. Please specify valid 'task' flag to run.")
	}
	if err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if ConfigPath != "" {
		var err error
		cfg, err = config.Load(absPath(ConfigPath))
		if err != nil {
			return nil, err
		}
	}
	if freeze != "" {
		f, err := strconv.ParseBool(freeze)
		if err != nil {
			return nil, fmt.Errorf("invalid -freeze value %q: %v", freeze, err)
		}
		overrides.FreezeBackbone = &f
	}
	cfg.ApplyOverrides(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.DataDir = absPath(cfg.DataDir)
	cfg.VGGDir = absPath(cfg.VGGDir)
	cfg.RunsDir = absPath(cfg.RunsDir)
	return cfg, nil
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		log.Fatal(err)
	}
	return fullpath
}
