// Package substate holds the payload representation the kernel moves around:
// opaque bytes plus the node ids the payload owns and references.
package substate

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xuperchain/xkernel/kernel/types"
)

const (
	fieldData  protowire.Number = 1
	fieldOwned protowire.Number = 2
	fieldRef   protowire.Number = 3
)

// IndexedValue is an encoded payload together with the ids extracted from it.
// It is immutable once built.
type IndexedValue struct {
	raw   []byte
	data  []byte
	owned []types.NodeId
	refs  []types.NodeId
}

// NewIndexedValue encodes data with the nodes it owns and references.
// Owned ids must be unique.
func NewIndexedValue(data []byte, owned []types.NodeId, refs []types.NodeId) (*IndexedValue, error) {
	if err := checkUnique(owned); err != nil {
		return nil, err
	}
	var raw []byte
	raw = protowire.AppendTag(raw, fieldData, protowire.BytesType)
	raw = protowire.AppendBytes(raw, data)
	for _, id := range owned {
		raw = protowire.AppendTag(raw, fieldOwned, protowire.BytesType)
		raw = protowire.AppendBytes(raw, id[:])
	}
	for _, id := range refs {
		raw = protowire.AppendTag(raw, fieldRef, protowire.BytesType)
		raw = protowire.AppendBytes(raw, id[:])
	}
	return &IndexedValue{
		raw:   raw,
		data:  append([]byte(nil), data...),
		owned: append([]types.NodeId(nil), owned...),
		refs:  append([]types.NodeId(nil), refs...),
	}, nil
}

// MustIndexedValue is NewIndexedValue for values known to be well formed.
func MustIndexedValue(data []byte, owned []types.NodeId, refs []types.NodeId) *IndexedValue {
	v, err := NewIndexedValue(data, owned, refs)
	if err != nil {
		panic(err)
	}
	return v
}

// FromData wraps bytes that own and reference nothing.
func FromData(data []byte) *IndexedValue {
	return MustIndexedValue(data, nil, nil)
}

// Empty is the payload of calls without arguments or results.
func Empty() *IndexedValue {
	return FromData(nil)
}

// Decode parses raw bytes and extracts owned and referenced ids.
func Decode(raw []byte) (*IndexedValue, error) {
	v := &IndexedValue{raw: append([]byte(nil), raw...)}
	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(types.ErrDecodePayload, protowire.ParseError(n).Error())
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrap(types.ErrDecodePayload, protowire.ParseError(n).Error())
			}
			b = b[n:]
			continue
		}
		field, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, errors.Wrap(types.ErrDecodePayload, protowire.ParseError(n).Error())
		}
		b = b[n:]
		switch num {
		case fieldData:
			v.data = append([]byte(nil), field...)
		case fieldOwned, fieldRef:
			id, err := types.NodeIdFromBytes(field)
			if err != nil {
				return nil, errors.Wrap(types.ErrDecodePayload, err.Error())
			}
			if num == fieldOwned {
				v.owned = append(v.owned, id)
			} else {
				v.refs = append(v.refs, id)
			}
		}
	}
	if err := checkUnique(v.owned); err != nil {
		return nil, err
	}
	return v, nil
}

func checkUnique(ids []types.NodeId) error {
	seen := make(types.NodeSet, len(ids))
	for _, id := range ids {
		if seen.Contains(id) {
			return errors.Wrapf(types.ErrDuplicateOwnership, "node %s", id)
		}
		seen.Add(id)
	}
	return nil
}

// Bytes returns the encoded form.
func (v *IndexedValue) Bytes() []byte {
	return v.raw
}

// Data returns the application bytes.
func (v *IndexedValue) Data() []byte {
	return v.data
}

func (v *IndexedValue) OwnedNodes() []types.NodeId {
	return v.owned
}

func (v *IndexedValue) References() []types.NodeId {
	return v.refs
}

func (v *IndexedValue) Size() int {
	return len(v.raw)
}

func (v *IndexedValue) Owns(id types.NodeId) bool {
	for _, o := range v.owned {
		if o == id {
			return true
		}
	}
	return false
}
