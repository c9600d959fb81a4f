// Package ids allocates node ids for one transaction.
package ids

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/xuperchain/xkernel/kernel/types"
)

// Allocator derives ids from a per-transaction seed and a flat counter, so the
// same intent replayed against the same state yields the same ids no matter
// how deep the calls that allocate them are.
type Allocator struct {
	seed    [32]byte
	counter uint32
	limit   uint32
}

// NewAllocator seeds an allocator from the transaction intent hash.
func NewAllocator(intentHash []byte) *Allocator {
	return NewAllocatorWithLimit(intentHash, math.MaxUint32)
}

// NewAllocatorWithLimit caps the number of ids the transaction may allocate.
func NewAllocatorWithLimit(intentHash []byte, limit uint32) *Allocator {
	return &Allocator{
		seed:  blake2b.Sum256(intentHash),
		limit: limit,
	}
}

// Next allocates the next id for the entity type. Exhaustion is fatal to the
// transaction.
func (a *Allocator) Next(entity types.EntityType) (types.NodeId, error) {
	if !entity.IsValid() {
		return types.ZeroNodeId, errors.Errorf("invalid entity type %s", entity)
	}
	if a.counter >= a.limit {
		return types.ZeroNodeId, errors.Wrapf(types.ErrIdAllocationExhausted, "allocated %d", a.counter)
	}
	var buf [36]byte
	copy(buf[:32], a.seed[:])
	binary.BigEndian.PutUint32(buf[32:], a.counter)
	a.counter++

	h := blake2b.Sum256(buf[:])
	return types.NewNodeId(entity, h[:types.NodeIdLength-1]), nil
}

// Count is the number of ids allocated so far.
func (a *Allocator) Count() uint32 {
	return a.counter
}
