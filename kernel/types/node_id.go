package types

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcutil/bech32"
	hex "github.com/tmthrgd/go-hex"
)

// NodeIdLength is the fixed width of a node id, entity tag included.
const NodeIdLength = 30

// NodeId identifies one heap or persisted node. The first byte is the entity type tag.
type NodeId [NodeIdLength]byte

// ZeroNodeId is never allocated.
var ZeroNodeId NodeId

func NodeIdFromBytes(b []byte) (NodeId, error) {
	var id NodeId
	if len(b) != NodeIdLength {
		return id, fmt.Errorf("invalid node id length %d", len(b))
	}
	copy(id[:], b)
	if !id.EntityType().IsValid() {
		return id, fmt.Errorf("invalid entity type 0x%02x", b[0])
	}
	return id, nil
}

// NewNodeId builds an id from an entity tag and up to 29 bytes of body.
func NewNodeId(entity EntityType, body []byte) NodeId {
	var id NodeId
	id[0] = byte(entity)
	copy(id[1:], body)
	return id
}

func (id NodeId) EntityType() EntityType {
	return EntityType(id[0])
}

func (id NodeId) IsGlobal() bool {
	return id.EntityType().IsGlobal()
}

func (id NodeId) IsInternal() bool {
	return id.EntityType().IsInternal()
}

func (id NodeId) IsZero() bool {
	return id == ZeroNodeId
}

func (id NodeId) Bytes() []byte {
	b := make([]byte, NodeIdLength)
	copy(b, id[:])
	return b
}

func (id NodeId) Hex() string {
	return hex.EncodeToString(id[:])
}

// String renders the id as bech32 with an entity-specific human readable part.
func (id NodeId) String() string {
	conv, err := bech32.ConvertBits(id[:], 8, 5, true)
	if err != nil {
		return id.Hex()
	}
	s, err := bech32.Encode(id.EntityType().Hrp(), conv)
	if err != nil {
		return id.Hex()
	}
	return s
}

// ParseNodeId decodes the bech32 form produced by String.
func ParseNodeId(s string) (NodeId, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return ZeroNodeId, fmt.Errorf("decode node id %q failed.err:%v", s, err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return ZeroNodeId, fmt.Errorf("decode node id %q failed.err:%v", s, err)
	}
	id, err := NodeIdFromBytes(raw)
	if err != nil {
		return ZeroNodeId, err
	}
	if id.EntityType().Hrp() != hrp {
		return ZeroNodeId, fmt.Errorf("node id %q has hrp %s, want %s", s, hrp, id.EntityType().Hrp())
	}
	return id, nil
}

func (id NodeId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *NodeId) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeId(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func CompareNodeIds(a, b NodeId) int {
	return bytes.Compare(a[:], b[:])
}

// SortNodeIds sorts in place by byte order. Every set iteration that can affect
// state goes through this so replays visit nodes in the same order.
func SortNodeIds(ids []NodeId) {
	sort.Slice(ids, func(i, j int) bool {
		return CompareNodeIds(ids[i], ids[j]) < 0
	})
}

// NodeSet is an unordered set of node ids. Use Sorted for iteration.
type NodeSet map[NodeId]struct{}

func NewNodeSet(ids ...NodeId) NodeSet {
	s := make(NodeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s NodeSet) Add(id NodeId) {
	s[id] = struct{}{}
}

func (s NodeSet) Remove(id NodeId) {
	delete(s, id)
}

func (s NodeSet) Contains(id NodeId) bool {
	_, ok := s[id]
	return ok
}

func (s NodeSet) Sorted() []NodeId {
	ids := make([]NodeId, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	SortNodeIds(ids)
	return ids
}
