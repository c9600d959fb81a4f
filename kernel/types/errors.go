package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// ownership and reference violations
var (
	ErrNodeNotFound       = errors.New("node not found")
	ErrNodeAlreadyExists  = errors.New("node already exists")
	ErrNodeNotVisible     = errors.New("node not visible to current frame")
	ErrNodeNotOwned       = errors.New("node not owned directly by current frame")
	ErrNodeBorrowed       = errors.New("node has outstanding borrows")
	ErrNodeLocked         = errors.New("node has open substate locks")
	ErrOrphanedNode       = errors.New("orphaned node on frame exit")
	ErrOwnershipCycle     = errors.New("ownership cycle")
	ErrDuplicateOwnership = errors.New("node owned twice in one value")
	ErrPersistedNodeMove  = errors.New("cannot move a persisted node out of the store")
	ErrCannotGlobalize    = errors.New("node cannot be globalized")
)

// lock violations
var (
	ErrSubstateLocked    = errors.New("substate locked")
	ErrLockNotMutable    = errors.New("lock not mutable")
	ErrLockNotFound      = errors.New("lock handle not found")
	ErrDanglingLock      = errors.New("dangling lock on frame exit")
	ErrSubstateNotFound  = errors.New("substate not found")
	ErrSubstateModified  = errors.New("substate already modified in this transaction")
	ErrInvalidLockFlags  = errors.New("invalid lock flags")
	ErrFrameNotActive    = errors.New("call frame not active")
	ErrSubstateTooLarge  = errors.New("substate exceeds size limit")
	ErrPartitionMismatch = errors.New("substate key kind does not fit partition")
)

// structural limits
var (
	ErrMaxCallDepthExceeded  = errors.New("max call depth exceeded")
	ErrIdAllocationExhausted = errors.New("node id allocation exhausted")
)

// delegated failures
var (
	ErrBlueprintNotFound      = errors.New("blueprint not found")
	ErrFunctionNotFound       = errors.New("blueprint function not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrCostUnitLimitExceeded  = errors.New("cost unit limit exceeded")
	ErrLoanNotRepaid          = errors.New("system loan not repaid")
	ErrInsufficientFeeBalance = errors.New("insufficient fee balance")
	ErrWasmTrap               = errors.New("wasm trap")
	ErrDecodePayload          = errors.New("decode payload failed")
)

// ErrorKind groups kernel errors into the categories callers act on.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindOwnership
	KindLock
	KindStructural
	KindDelegated
)

func (k ErrorKind) String() string {
	switch k {
	case KindOwnership:
		return "Ownership"
	case KindLock:
		return "Lock"
	case KindStructural:
		return "Structural"
	case KindDelegated:
		return "Delegated"
	}
	return "Unknown"
}

var errorKinds = map[error]ErrorKind{
	ErrNodeNotFound:       KindOwnership,
	ErrNodeAlreadyExists:  KindOwnership,
	ErrNodeNotVisible:     KindOwnership,
	ErrNodeNotOwned:       KindOwnership,
	ErrNodeBorrowed:       KindOwnership,
	ErrNodeLocked:         KindOwnership,
	ErrOrphanedNode:       KindOwnership,
	ErrOwnershipCycle:     KindOwnership,
	ErrDuplicateOwnership: KindOwnership,
	ErrPersistedNodeMove:  KindOwnership,
	ErrCannotGlobalize:    KindOwnership,

	ErrSubstateLocked:    KindLock,
	ErrLockNotMutable:    KindLock,
	ErrLockNotFound:      KindLock,
	ErrDanglingLock:      KindLock,
	ErrSubstateNotFound:  KindLock,
	ErrSubstateModified:  KindLock,
	ErrInvalidLockFlags:  KindLock,
	ErrFrameNotActive:    KindLock,
	ErrSubstateTooLarge:  KindLock,
	ErrPartitionMismatch: KindLock,

	ErrMaxCallDepthExceeded:  KindStructural,
	ErrIdAllocationExhausted: KindStructural,

	ErrBlueprintNotFound:      KindDelegated,
	ErrFunctionNotFound:       KindDelegated,
	ErrUnauthorized:           KindDelegated,
	ErrCostUnitLimitExceeded:  KindDelegated,
	ErrLoanNotRepaid:          KindDelegated,
	ErrInsufficientFeeBalance: KindDelegated,
	ErrWasmTrap:               KindDelegated,
	ErrDecodePayload:          KindDelegated,
}

// KindOf classifies err by the first kernel sentinel found in its chain.
// Application errors are delegated failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for sentinel, kind := range errorKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return KindDelegated
	}
	return KindUnknown
}

// ApplicationError is raised by blueprint code for business-rule violations.
type ApplicationError struct {
	Blueprint BlueprintId
	Message   string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("application error in %s: %s", e.Blueprint, e.Message)
}

// OrphanError lists the nodes left owned by a frame that exited successfully.
type OrphanError struct {
	Actor Actor
	Nodes []NodeId
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("%v: %s left %d node(s) %v", ErrOrphanedNode, e.Actor, len(e.Nodes), e.Nodes)
}

func (e *OrphanError) Unwrap() error {
	return ErrOrphanedNode
}
