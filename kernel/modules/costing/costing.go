// Package costing meters cost units and holds the fee reserve of a
// transaction.
package costing

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/common/xconfig"
	"github.com/xuperchain/xkernel/kernel/modules"
	"github.com/xuperchain/xkernel/kernel/types"
)

const Name = "costing"

// charge reasons
const (
	ReasonInvoke     = "invoke"
	ReasonCreateNode = "create_node"
	ReasonLock       = "lock"
	ReasonRead       = "read"
	ReasonWrite      = "write"
)

type Charge struct {
	Reason string
	Units  uint32
}

type Credit struct {
	Vault  types.NodeId
	Amount uint64
}

// FeeSummary is the costing part of a receipt.
type FeeSummary struct {
	CostUnitLimit uint32
	CostUnitPrice uint64
	SystemLoan    uint32
	Consumed      uint32
	LoanRepaid    bool
	// Cost is Consumed times CostUnitPrice.
	Cost      uint64
	Credited  uint64
	Breakdown []Charge
	Credits   []Credit
}

// Refund is the locked fee left after paying Cost.
func (s *FeeSummary) Refund() uint64 {
	if s.Credited < s.Cost {
		return 0
	}
	return s.Credited - s.Cost
}

// Costing charges cost units on kernel hooks. Units up to the system loan
// are usable before any fee is locked; once the loan is exhausted it must
// be repaid from credited fees.
type Costing struct {
	modules.BaseModule

	conf      xconfig.CostingConf
	limit     uint32
	consumed  uint32
	repaid    bool
	credited  uint64
	breakdown map[string]uint32
	credits   []Credit
}

// New creates the module. A non zero limit lowers the configured cost unit
// limit for one transaction.
func New(conf xconfig.CostingConf, limit uint32) *Costing {
	if limit == 0 || limit > conf.CostUnitLimit {
		limit = conf.CostUnitLimit
	}
	return &Costing{
		conf:      conf,
		limit:     limit,
		breakdown: make(map[string]uint32),
	}
}

func (c *Costing) Name() string { return Name }

func (c *Costing) cost(units uint32) uint64 {
	price := c.conf.CostUnitPrice
	if price != 0 && uint64(units) > math.MaxUint64/price {
		return math.MaxUint64
	}
	return uint64(units) * price
}

// ConsumeCostUnits charges units for reason.
func (c *Costing) ConsumeCostUnits(units uint32, reason string) error {
	if units == 0 {
		return nil
	}
	total := uint64(c.consumed) + uint64(units)
	if total > uint64(c.limit) {
		return errors.Wrapf(types.ErrCostUnitLimitExceeded, "%d + %d > %d", c.consumed, units, c.limit)
	}
	c.consumed = uint32(total)
	c.breakdown[reason] += units

	if !c.repaid && c.consumed > c.conf.SystemLoan {
		if err := c.Repay(); err != nil {
			return err
		}
	}
	if c.repaid && c.cost(c.consumed) > c.credited {
		return errors.Wrapf(types.ErrInsufficientFeeBalance, "cost %d, locked %d", c.cost(c.consumed), c.credited)
	}
	return nil
}

// CreditCostUnits records amount locked from vault.
func (c *Costing) CreditCostUnits(vault types.NodeId, amount uint64) error {
	if !vault.EntityType().IsVault() {
		return errors.Wrapf(types.ErrUnauthorized, "fee credit from non vault %s", vault)
	}
	if c.credited > math.MaxUint64-amount {
		return errors.Wrapf(types.ErrInsufficientFeeBalance, "credit overflow")
	}
	c.credited += amount
	c.credits = append(c.credits, Credit{Vault: vault, Amount: amount})
	return nil
}

// Repay settles the loan from credited fees. It is called when the loan is
// exhausted and once more at the end of the transaction.
func (c *Costing) Repay() error {
	if c.repaid {
		return nil
	}
	if owed := c.cost(c.consumed); c.credited < owed {
		return errors.Wrapf(types.ErrLoanNotRepaid, "owed %d, locked %d", owed, c.credited)
	}
	c.repaid = true
	return nil
}

func (c *Costing) Repaid() bool     { return c.repaid }
func (c *Costing) Consumed() uint32 { return c.consumed }

func (c *Costing) Summary() *FeeSummary {
	s := &FeeSummary{
		CostUnitLimit: c.limit,
		CostUnitPrice: c.conf.CostUnitPrice,
		SystemLoan:    c.conf.SystemLoan,
		Consumed:      c.consumed,
		LoanRepaid:    c.repaid,
		Cost:          c.cost(c.consumed),
		Credited:      c.credited,
		Credits:       append([]Credit(nil), c.credits...),
	}
	for reason, units := range c.breakdown {
		s.Breakdown = append(s.Breakdown, Charge{Reason: reason, Units: units})
	}
	sort.Slice(s.Breakdown, func(i, j int) bool { return s.Breakdown[i].Reason < s.Breakdown[j].Reason })
	return s
}

func (c *Costing) bytes(n int) uint32 {
	if n <= 0 {
		return 0
	}
	v := uint64(n) * uint64(c.conf.ByteCost)
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

func saturatingAdd(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}

func (c *Costing) BeforeInvoke(info *modules.InvokeInfo) error {
	return c.ConsumeCostUnits(saturatingAdd(c.conf.InvokeCost, c.bytes(info.ArgsSize)), ReasonInvoke)
}

func (c *Costing) OnCreateNode(_ types.NodeId, size int) error {
	return c.ConsumeCostUnits(saturatingAdd(c.conf.CreateNodeCost, c.bytes(size)), ReasonCreateNode)
}

func (c *Costing) OnOpenLock(_ types.SubstateLocation, _ types.LockFlags, _ int) error {
	return c.ConsumeCostUnits(c.conf.LockCost, ReasonLock)
}

func (c *Costing) OnReadSubstate(_ types.LockHandle, size int) error {
	return c.ConsumeCostUnits(c.bytes(size), ReasonRead)
}

func (c *Costing) OnWriteSubstate(_ types.LockHandle, size int) error {
	return c.ConsumeCostUnits(c.bytes(size), ReasonWrite)
}
