// Package session holds the explicit training context shared by the
// backbone loader, the decoder builder, the objective and the training loop.
package session

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"golang.org/x/exp/rand"
)

// Session owns the device, the two variable stores and the random source
// of a run.
//
// Backbone holds the pretrained feature extractor. Head holds the decoder
// layers built on top of it. Keeping them apart lets the optimizer target
// either the head alone or both.
type Session struct {
	Device   gotch.Device
	Backbone *nn.VarStore
	Head     *nn.VarStore

	// Src feeds weight initialisation of layers built in the session.
	Src rand.Source
}

// New creates a Session with empty variable stores on device. seed fixes
// head initialisation; 0 picks a time based seed.
func New(device gotch.Device, seed int64) *Session {
	return &Session{
		Device:   device,
		Backbone: nn.NewVarStore(device),
		Head:     nn.NewVarStore(device),
		Src:      rand.NewSource(uint64(Seed(seed))),
	}
}

// Seed returns seed, or the current time when seed is 0.
func Seed(seed int64) int64 {
	if seed == 0 {
		return time.Now().UnixNano()
	}
	return seed
}

// Stores returns the variable stores whose parameters receive gradient
// updates. The backbone store is left out when it is frozen.
func (s *Session) Stores(freezeBackbone bool) []*nn.VarStore {
	if freezeBackbone {
		return []*nn.VarStore{s.Head}
	}
	return []*nn.VarStore{s.Backbone, s.Head}
}

// RestoreHead fills the head store from a weight bundle saved with
// Head.Save. Every head variable must be present with the same shape.
func (s *Session) RestoreHead(path string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "session: head weights")
	}
	if err := s.Head.Load(path); err != nil {
		return errors.Wrapf(err, "session: load head weights %v", path)
	}
	return nil
}
