// Package dutil provides a minimal dataset / sampler / data loader trio.
package dutil

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Dataset is a random access collection of samples.
type Dataset interface {
	Len() int
	Item(idx int) (interface{}, error)
}

// BatchSampler splits dataset indices into batches.
type BatchSampler struct {
	n         int
	batchSize int
	dropLast  bool
	shuffle   bool
	rng       *rand.Rand

	batches [][]int
}

// NewBatchSampler creates a BatchSampler over n samples. With dropLast a
// trailing batch smaller than batchSize is discarded. With shuffle the order
// is permuted on every Reset.
func NewBatchSampler(n, batchSize int, dropLast, shuffle bool, seedOpt ...int64) (*BatchSampler, error) {
	if n <= 0 {
		return nil, errors.Errorf("dutil: dataset is empty")
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("dutil: invalid batch size %v", batchSize)
	}

	var seed int64 = 1
	if len(seedOpt) > 0 {
		seed = seedOpt[0]
	}

	s := &BatchSampler{
		n:         n,
		batchSize: batchSize,
		dropLast:  dropLast,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
	s.Reset()

	return s, nil
}

// Reset rebuilds the batch list, reshuffling when enabled.
func (s *BatchSampler) Reset() {
	idx := make([]int, s.n)
	for i := range idx {
		idx[i] = i
	}
	if s.shuffle {
		s.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}

	s.batches = s.batches[:0]
	for start := 0; start < s.n; start += s.batchSize {
		end := start + s.batchSize
		if end > s.n {
			if s.dropLast {
				break
			}
			end = s.n
		}
		s.batches = append(s.batches, idx[start:end])
	}
}

// Len returns the number of batches per pass.
func (s *BatchSampler) Len() int {
	return len(s.batches)
}

// Batch returns the indices of batch i.
func (s *BatchSampler) Batch(i int) []int {
	return s.batches[i]
}
