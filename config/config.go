// Package config holds the hyperparameters and paths of a training run.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	// NumClasses is the number of per-pixel classes (background, road).
	NumClasses int64 `yaml:"num_classes"`
	// ImageShape is the network input size [height, width]. Both must be
	// divisible by 32 so the decoder output matches the labels.
	ImageShape [2]int `yaml:"image_shape"`
	// BatchSize is the number of images per update step.
	BatchSize int `yaml:"batch_size"`
	// Epochs is the number of full passes over the training set.
	Epochs int `yaml:"epochs"`
	// KeepProb is the dropout keep probability fed to the backbone while training.
	KeepProb float64 `yaml:"keep_prob"`
	// LearningRate is the Adam step size.
	LearningRate float64 `yaml:"learning_rate"`
	// BackboneTag selects the pretrained backbone and its weight bundle <tag>.ot.
	BackboneTag string `yaml:"backbone_tag"`
	// FreezeBackbone keeps pretrained weights out of the optimizer.
	FreezeBackbone bool `yaml:"freeze_backbone"`
	// Seed fixes head initialisation and the shuffle order. 0 seeds from
	// the clock.
	Seed int64 `yaml:"seed"`

	DataDir  string `yaml:"data_dir"`
	VGGDir   string `yaml:"vgg_dir"`
	RunsDir  string `yaml:"runs_dir"`
	SavePath string `yaml:"save_path"`
	Cuda     bool   `yaml:"cuda"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		NumClasses:     2,
		ImageShape:     [2]int{160, 576},
		BatchSize:      2,
		Epochs:         2,
		KeepProb:       0.70,
		LearningRate:   0.0001,
		BackboneTag:    "vgg16",
		FreezeBackbone: true,
		DataDir:        "./data",
		VGGDir:         "./data/vgg",
		RunsDir:        "./runs",
	}
}

// Overrides captures CLI supplied values.
type Overrides struct {
	BatchSize    int
	Epochs       int
	KeepProb     float64
	LearningRate float64
	BackboneTag  string
	DataDir      string
	VGGDir       string
	RunsDir      string
	SavePath     string
	Seed         int64

	// FreezeBackbone is applied when set.
	FreezeBackbone *bool
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.KeepProb > 0 {
		c.KeepProb = o.KeepProb
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.BackboneTag != "" {
		c.BackboneTag = o.BackboneTag
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.VGGDir != "" {
		c.VGGDir = o.VGGDir
	}
	if o.RunsDir != "" {
		c.RunsDir = o.RunsDir
	}
	if o.SavePath != "" {
		c.SavePath = o.SavePath
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.FreezeBackbone != nil {
		c.FreezeBackbone = *o.FreezeBackbone
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.NumClasses < 2 {
		return errors.Errorf("num_classes must be >= 2 (got %d)", c.NumClasses)
	}
	for i, d := range c.ImageShape {
		if d <= 0 || d%32 != 0 {
			return errors.Errorf("image_shape[%d] must be a positive multiple of 32 (got %d)", i, d)
		}
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.KeepProb <= 0 || c.KeepProb > 1 {
		return errors.Errorf("keep_prob must be in (0, 1] (got %v)", c.KeepProb)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %v)", c.LearningRate)
	}
	if c.BackboneTag == "" {
		return errors.New("backbone_tag must be set")
	}
	return nil
}
