package base

import (
	"reflect"

	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"
)

// ErrShapeMismatch reports two tensors whose shapes must be identical.
var ErrShapeMismatch = errors.New("shape mismatch")

// SameShape returns an error wrapping ErrShapeMismatch unless x and y have
// exactly the same size. Broadcasting is not allowed.
func SameShape(what string, x, y *ts.Tensor) error {
	xs := x.MustSize()
	ys := y.MustSize()
	if !reflect.DeepEqual(xs, ys) {
		return errors.Wrapf(ErrShapeMismatch, "%v: %v vs %v", what, xs, ys)
	}
	return nil
}
