package dutil

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intDataset struct {
	n       int
	failing int
}

func (d *intDataset) Len() int { return d.n }

func (d *intDataset) Item(idx int) (interface{}, error) {
	if idx == d.failing {
		return nil, fmt.Errorf("broken sample %d", idx)
	}
	return idx * 10, nil
}

func TestBatchSampler(t *testing.T) {
	s, err := NewBatchSampler(7, 2, false, false)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []int{6}, s.Batch(3))

	s, err = NewBatchSampler(7, 2, true, false)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	_, err = NewBatchSampler(0, 2, false, false)
	assert.Error(t, err)
	_, err = NewBatchSampler(3, 0, false, false)
	assert.Error(t, err)
}

func TestBatchSamplerShuffleCoversAll(t *testing.T) {
	s, err := NewBatchSampler(10, 3, false, true, 42)
	require.NoError(t, err)

	for pass := 0; pass < 3; pass++ {
		var seen []int
		for i := 0; i < s.Len(); i++ {
			seen = append(seen, s.Batch(i)...)
		}
		sort.Ints(seen)
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
		s.Reset()
	}
}

func TestDataLoaderOrder(t *testing.T) {
	ds := &intDataset{n: 5, failing: -1}
	s, err := NewBatchSampler(ds.Len(), 2, false, false)
	require.NoError(t, err)
	dl, err := NewDataLoader(ds, s)
	require.NoError(t, err)

	var got []interface{}
	for dl.HasNext() {
		items, err := dl.Next()
		require.NoError(t, err)
		got = append(got, items...)
	}
	assert.Equal(t, []interface{}{0, 10, 20, 30, 40}, got)

	_, err = dl.Next()
	assert.Error(t, err)

	dl.Reset()
	assert.True(t, dl.HasNext())
	assert.Equal(t, 3, dl.Len())
}

func TestDataLoaderItemError(t *testing.T) {
	ds := &intDataset{n: 4, failing: 2}
	s, err := NewBatchSampler(ds.Len(), 4, false, false)
	require.NoError(t, err)
	dl, err := NewDataLoader(ds, s)
	require.NoError(t, err)

	_, err = dl.Next()
	assert.Error(t, err)
}

func TestDataLoaderSizeMismatch(t *testing.T) {
	s, err := NewBatchSampler(3, 1, false, false)
	require.NoError(t, err)
	_, err = NewDataLoader(&intDataset{n: 4, failing: -1}, s)
	assert.Error(t, err)
}
