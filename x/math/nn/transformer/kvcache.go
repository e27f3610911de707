package transformer

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// KVCache holds the accumulated key/value projections for one attention
// layer across an append-only decoding session. It is capacity-bounded:
// Append past capacity returns ErrCacheOverflow rather than silently
// reallocating, so a caller that mis-sizes a generation loop finds out
// immediately instead of paying for a hidden resize on every token.
type KVCache struct {
	capacity int
	length   int
	keys     tensor.Array // (batch, heads, capacity, head_dim)
	values   tensor.Array // (batch, heads, capacity, head_dim)
}

// NewKVCache preallocates a cache for the given batch size, head count,
// head dimension, and capacity (maximum sequence length it will ever
// hold).
func NewKVCache(batch, heads, capacity, headDim int) *KVCache {
	shape := types.NewShape(batch, heads, capacity, headDim)
	return &KVCache{capacity: capacity, keys: tensor.Zeros(shape), values: tensor.Zeros(shape)}
}

// Len returns the number of positions currently stored.
func (c *KVCache) Len() int { return c.length }

// Capacity returns the maximum number of positions the cache can hold.
func (c *KVCache) Capacity() int { return c.capacity }

// Append writes newKeys/newValues (batch, heads, seqLen, head_dim) at the
// cache's current length and advances it, returning the full
// keys/values accumulated so far (batch, heads, length, head_dim).
func (c *KVCache) Append(newKeys, newValues tensor.Array) (tensor.Array, tensor.Array, error) {
	seqLen := newKeys.Shape()[2]
	if c.length+seqLen > c.capacity {
		return tensor.Array{}, tensor.Array{}, fmt.Errorf("transformer.KVCache.Append: %w: appending %d positions at length %d would exceed capacity %d",
			types.ErrCacheOverflow, seqLen, c.length, c.capacity)
	}
	batch, heads, _, headDim := c.keys.Shape()[0], c.keys.Shape()[1], c.keys.Shape()[2], c.keys.Shape()[3]
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for s := 0; s < seqLen; s++ {
				for d := 0; d < headDim; d++ {
					c.keys.Set(newKeys.At(b, h, s, d), b, h, c.length+s, d)
					c.values.Set(newValues.At(b, h, s, d), b, h, c.length+s, d)
				}
			}
		}
	}
	c.length += seqLen
	keysOut, err := tensor.IndexSelect(c.keys, 2, rangeInts(0, c.length))
	if err != nil {
		return tensor.Array{}, tensor.Array{}, err
	}
	valuesOut, err := tensor.IndexSelect(c.values, 2, rangeInts(0, c.length))
	if err != nil {
		return tensor.Array{}, tensor.Array{}, err
	}
	return keysOut, valuesOut, nil
}

// Reset clears the cache without reallocating its backing storage, for
// starting a fresh generation with the same batch/head/capacity shape.
func (c *KVCache) Reset() { c.length = 0 }
