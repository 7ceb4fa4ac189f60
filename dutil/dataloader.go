package dutil

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DataLoader iterates a Dataset batch by batch.
type DataLoader struct {
	dataset Dataset
	sampler *BatchSampler
	current int
}

// NewDataLoader creates a DataLoader.
func NewDataLoader(ds Dataset, s *BatchSampler) (*DataLoader, error) {
	if ds == nil || s == nil {
		return nil, errors.New("dutil: nil dataset or sampler")
	}
	if s.n != ds.Len() {
		return nil, errors.Errorf("dutil: sampler covers %v samples, dataset has %v", s.n, ds.Len())
	}

	return &DataLoader{dataset: ds, sampler: s}, nil
}

// HasNext reports whether another batch is available in this pass.
func (dl *DataLoader) HasNext() bool {
	return dl.current < dl.sampler.Len()
}

// Next loads the next batch. Items are decoded concurrently and returned in
// sampler order.
func (dl *DataLoader) Next() ([]interface{}, error) {
	if !dl.HasNext() {
		return nil, errors.New("dutil: no more batches")
	}
	idx := dl.sampler.Batch(dl.current)
	dl.current++

	items := make([]interface{}, len(idx))
	var g errgroup.Group
	for i, id := range idx {
		i, id := i, id
		g.Go(func() error {
			item, err := dl.dataset.Item(id)
			if err != nil {
				return errors.Wrapf(err, "dutil: item %v", id)
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return items, nil
}

// Len returns the number of batches per pass.
func (dl *DataLoader) Len() int {
	return dl.sampler.Len()
}

// Reset starts a new pass.
func (dl *DataLoader) Reset() {
	dl.sampler.Reset()
	dl.current = 0
}
