// Package transaction executes a transaction against a substate store and
// produces its receipt.
package transaction

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

var (
	ErrEmptyIntentHash    = errors.New("empty intent hash")
	ErrNoInstructions     = errors.New("transaction has no instructions")
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrInvalidReference   = errors.New("invalid reference")
	ErrReferenceNotFound  = errors.New("referenced node not found")
)

type InstructionKind uint8

const (
	CallFunction InstructionKind = iota + 1
	CallMethod
)

func (k InstructionKind) String() string {
	switch k {
	case CallFunction:
		return "CallFunction"
	case CallMethod:
		return "CallMethod"
	}
	return fmt.Sprintf("InstructionKind(%d)", uint8(k))
}

// Instruction is one top level call made from the root frame.
type Instruction struct {
	Kind InstructionKind
	// CallFunction
	Blueprint types.BlueprintId
	// CallMethod
	Receiver types.NodeId
	Module   types.ModuleId

	Ident string
	Args  *substate.IndexedValue
	// UsePrevious passes the output of the previous instruction as args,
	// moving the nodes it owns. Args is ignored.
	UsePrevious bool
}

func (i *Instruction) String() string {
	if i.Kind == CallMethod {
		return fmt.Sprintf("%s(%s,%s,%s)", i.Kind, i.Receiver, i.Module, i.Ident)
	}
	return fmt.Sprintf("%s(%s,%s)", i.Kind, i.Blueprint, i.Ident)
}

type Transaction struct {
	IntentHash   []byte
	Instructions []*Instruction
	// global nodes visible to the root frame
	References   []types.NodeId
	SignerBadges []string
	// zero means the configured limit
	CostUnitLimit uint32
}

// Validate checks the shape of tx without touching state.
func (tx *Transaction) Validate() error {
	if len(tx.IntentHash) == 0 {
		return ErrEmptyIntentHash
	}
	if len(tx.Instructions) == 0 {
		return ErrNoInstructions
	}
	for idx, ins := range tx.Instructions {
		if err := ins.validate(idx); err != nil {
			return err
		}
	}
	for _, ref := range tx.References {
		if !ref.IsGlobal() {
			return errors.Wrapf(ErrInvalidReference, "%s is not global", ref)
		}
	}
	return nil
}

func (i *Instruction) validate(idx int) error {
	if i == nil {
		return errors.Wrapf(ErrInvalidInstruction, "instruction %d is nil", idx)
	}
	if i.Ident == "" {
		return errors.Wrapf(ErrInvalidInstruction, "instruction %d: empty ident", idx)
	}
	if i.UsePrevious && idx == 0 {
		return errors.Wrapf(ErrInvalidInstruction, "instruction 0 has no previous output")
	}
	switch i.Kind {
	case CallFunction:
		if i.Blueprint.Package.EntityType() != types.EntityGlobalPackage || i.Blueprint.Name == "" {
			return errors.Wrapf(ErrInvalidInstruction, "instruction %d: bad blueprint %s", idx, i.Blueprint)
		}
	case CallMethod:
		if !i.Receiver.EntityType().IsValid() {
			return errors.Wrapf(ErrInvalidInstruction, "instruction %d: bad receiver %s", idx, i.Receiver)
		}
	default:
		return errors.Wrapf(ErrInvalidInstruction, "instruction %d: %s", idx, i.Kind)
	}
	return nil
}
