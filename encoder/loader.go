package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcnroad/session"
)

// DefaultTag is the backbone tag used when none is configured.
const DefaultTag = "vgg16"

// Arch describes a registered backbone architecture.
type Arch struct {
	// Channels of layer3, layer4 and layer7.
	Channels [3]int64
	// New builds the encoder variables under p.
	New func(p *nn.Path) Encoder
}

var registry = map[string]Arch{
	"vgg16": {
		Channels: DefaultVGG16Config.Channels(),
		New:      func(p *nn.Path) Encoder { return NewVGG16Encoder(p) },
	},
	"resnet18": {
		Channels: ResNet34Channels,
		New:      func(p *nn.Path) Encoder { return NewResNetEncoder(p, ResNet18Config) },
	},
	"resnet34": {
		Channels: ResNet34Channels,
		New:      func(p *nn.Path) Encoder { return NewResNet34Encoder(p) },
	},
}

// Register adds or replaces a backbone architecture under tag.
func Register(tag string, arch Arch) {
	registry[tag] = arch
}

// Tags lists registered backbone tags.
func Tags() []string {
	tags := make([]string, 0, len(registry))
	for t := range registry {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// WeightFile returns the weight bundle path for tag inside dir.
func WeightFile(dir, tag string) string {
	return filepath.Join(dir, fmt.Sprintf("%v.ot", tag))
}

// Backbone is a loaded pretrained feature extractor.
type Backbone struct {
	Tag      string
	Channels [3]int64
	Frozen   bool

	enc Encoder
}

// Load builds the backbone registered under tag in the session's backbone
// variable store and fills it from dir/<tag>.ot.
//
// A missing directory, a missing bundle or a bundle that does not match the
// architecture is returned as an error. With freeze set the backbone store
// stops tracking gradients.
func Load(sess *session.Session, dir, tag string, freeze bool) (*Backbone, error) {
	arch, ok := registry[tag]
	if !ok {
		return nil, errors.Errorf("encoder: unknown backbone tag %q (known: %v)", tag, Tags())
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "encoder: backbone directory")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("encoder: backbone path %q is not a directory", dir)
	}

	weightFile := WeightFile(dir, tag)
	if _, err := os.Stat(weightFile); err != nil {
		return nil, errors.Wrapf(err, "encoder: %v weight bundle", tag)
	}

	enc := arch.New(sess.Backbone.Root())
	if err := sess.Backbone.Load(weightFile); err != nil {
		return nil, errors.Wrapf(err, "encoder: load %v", weightFile)
	}

	if freeze {
		sess.Backbone.Freeze()
	}

	return &Backbone{
		Tag:      tag,
		Channels: arch.Channels,
		Frozen:   freeze,
		enc:      enc,
	}, nil
}

// Handles lists the five named handles of the backbone.
func (b *Backbone) Handles() []string {
	return []string{ImageInput, KeepProb, Layer3Out, Layer4Out, Layer7Out}
}

// Forward feeds image (image_input) with dropout keep probability
// keepProb (keep_prob) and returns the three tapped feature maps.
func (b *Backbone) Forward(image *ts.Tensor, keepProb float64, train bool) *Features {
	return b.enc.ForwardAll(image, keepProb, train)
}
