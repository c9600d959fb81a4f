package types

import "strings"

// LockFlags controls how a substate lock may be used.
type LockFlags uint8

const (
	LockReadOnly LockFlags = 0
	// LockMutable allows writes and excludes every other lock on the location.
	LockMutable LockFlags = 1 << 0
	// LockUnmodifiedBase refuses the lock if the substate was already written in
	// this transaction.
	LockUnmodifiedBase LockFlags = 1 << 1
	// LockForceWrite keeps the write even when the transaction fails. Only valid
	// on persisted nodes together with LockMutable and LockUnmodifiedBase.
	LockForceWrite LockFlags = 1 << 2
)

func (f LockFlags) Contains(o LockFlags) bool {
	return f&o == o
}

func (f LockFlags) IsMutable() bool {
	return f.Contains(LockMutable)
}

func (f LockFlags) String() string {
	if f == LockReadOnly {
		return "ReadOnly"
	}
	var parts []string
	if f.Contains(LockMutable) {
		parts = append(parts, "Mutable")
	}
	if f.Contains(LockUnmodifiedBase) {
		parts = append(parts, "UnmodifiedBase")
	}
	if f.Contains(LockForceWrite) {
		parts = append(parts, "ForceWrite")
	}
	return strings.Join(parts, "|")
}

// LockHandle refers to one open substate lock. Handles are never reused within
// a transaction.
type LockHandle uint32
