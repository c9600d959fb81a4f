package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	hex "github.com/tmthrgd/go-hex"
)

// PartitionNumber selects one field block or collection inside a node.
type PartitionNumber uint8

const (
	TypeInfoPartition         PartitionNumber = 0
	MetadataPartition         PartitionNumber = 1
	RoyaltyPartition          PartitionNumber = 2
	RoleAssignmentPartition   PartitionNumber = 3
	PackageCodePartition      PartitionNumber = 8
	PackageBlueprintPartition PartitionNumber = 9
	MainBasePartition         PartitionNumber = 64
)

// TypeInfoField is the field key under TypeInfoPartition that names the blueprint.
const TypeInfoField uint8 = 0

type KeyKind uint8

const (
	FieldKeyKind KeyKind = iota
	MapKeyKind
	SortedKeyKind
)

func (k KeyKind) String() string {
	switch k {
	case FieldKeyKind:
		return "Field"
	case MapKeyKind:
		return "Map"
	case SortedKeyKind:
		return "Sorted"
	}
	return fmt.Sprintf("KeyKind(%d)", uint8(k))
}

// SubstateKey addresses one value within a partition.
type SubstateKey struct {
	kind  KeyKind
	field uint8
	sort  uint16
	key   []byte
}

func NewFieldKey(field uint8) SubstateKey {
	return SubstateKey{kind: FieldKeyKind, field: field}
}

func NewMapKey(key []byte) SubstateKey {
	return SubstateKey{kind: MapKeyKind, key: append([]byte(nil), key...)}
}

func NewSortedKey(sort uint16, key []byte) SubstateKey {
	return SubstateKey{kind: SortedKeyKind, sort: sort, key: append([]byte(nil), key...)}
}

func (k SubstateKey) Kind() KeyKind {
	return k.kind
}

func (k SubstateKey) Field() uint8 {
	return k.field
}

func (k SubstateKey) SortPrefix() uint16 {
	return k.sort
}

func (k SubstateKey) Key() []byte {
	return k.key
}

// Size is the encoded length, used for limits and costing.
func (k SubstateKey) Size() int {
	switch k.kind {
	case FieldKeyKind:
		return 2
	case SortedKeyKind:
		return 3 + len(k.key)
	default:
		return 1 + len(k.key)
	}
}

// Encode returns kind || payload. Within one kind the byte order matches the
// logical order (sorted keys compare by prefix first).
func (k SubstateKey) Encode() []byte {
	switch k.kind {
	case FieldKeyKind:
		return []byte{byte(FieldKeyKind), k.field}
	case SortedKeyKind:
		buf := make([]byte, 3, 3+len(k.key))
		buf[0] = byte(SortedKeyKind)
		binary.BigEndian.PutUint16(buf[1:], k.sort)
		return append(buf, k.key...)
	default:
		buf := make([]byte, 1, 1+len(k.key))
		buf[0] = byte(MapKeyKind)
		return append(buf, k.key...)
	}
}

func DecodeSubstateKey(b []byte) (SubstateKey, error) {
	if len(b) == 0 {
		return SubstateKey{}, fmt.Errorf("empty substate key")
	}
	switch KeyKind(b[0]) {
	case FieldKeyKind:
		if len(b) != 2 {
			return SubstateKey{}, fmt.Errorf("invalid field key length %d", len(b))
		}
		return NewFieldKey(b[1]), nil
	case MapKeyKind:
		return NewMapKey(b[1:]), nil
	case SortedKeyKind:
		if len(b) < 3 {
			return SubstateKey{}, fmt.Errorf("invalid sorted key length %d", len(b))
		}
		return NewSortedKey(binary.BigEndian.Uint16(b[1:3]), b[3:]), nil
	}
	return SubstateKey{}, fmt.Errorf("unknown substate key kind %d", b[0])
}

func (k SubstateKey) Equal(o SubstateKey) bool {
	return k.kind == o.kind && k.field == o.field && k.sort == o.sort && bytes.Equal(k.key, o.key)
}

func (k SubstateKey) String() string {
	switch k.kind {
	case FieldKeyKind:
		return fmt.Sprintf("Field(%d)", k.field)
	case SortedKeyKind:
		return fmt.Sprintf("Sorted(%d,%s)", k.sort, hex.EncodeToString(k.key))
	default:
		return fmt.Sprintf("Map(%s)", hex.EncodeToString(k.key))
	}
}

// SubstateLocation is the full address (node, partition, key) of one substate.
type SubstateLocation struct {
	Node      NodeId
	Partition PartitionNumber
	Key       SubstateKey
}

func NewLocation(node NodeId, partition PartitionNumber, key SubstateKey) SubstateLocation {
	return SubstateLocation{Node: node, Partition: partition, Key: key}
}

// DbKey is the storage key: node || partition || encoded substate key.
func (l SubstateLocation) DbKey() []byte {
	return EncodeDbKey(l.Node, l.Partition, l.Key)
}

func (l SubstateLocation) String() string {
	return fmt.Sprintf("%s/%d/%s", l.Node, l.Partition, l.Key)
}

func EncodeDbKey(node NodeId, partition PartitionNumber, key SubstateKey) []byte {
	encoded := key.Encode()
	buf := make([]byte, 0, NodeIdLength+1+len(encoded))
	buf = append(buf, node[:]...)
	buf = append(buf, byte(partition))
	return append(buf, encoded...)
}

// PartitionPrefix is the db key prefix shared by every substate of a partition.
func PartitionPrefix(node NodeId, partition PartitionNumber) []byte {
	buf := make([]byte, 0, NodeIdLength+1)
	buf = append(buf, node[:]...)
	return append(buf, byte(partition))
}

func DecodeDbKey(b []byte) (SubstateLocation, error) {
	if len(b) < NodeIdLength+2 {
		return SubstateLocation{}, fmt.Errorf("db key too short: %d", len(b))
	}
	node, err := NodeIdFromBytes(b[:NodeIdLength])
	if err != nil {
		return SubstateLocation{}, err
	}
	key, err := DecodeSubstateKey(b[NodeIdLength+1:])
	if err != nil {
		return SubstateLocation{}, err
	}
	return SubstateLocation{Node: node, Partition: PartitionNumber(b[NodeIdLength]), Key: key}, nil
}
