package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status is derived from a pool's flags and the clock; it is never stored.
type Status string

const (
	StatusOpen         Status = "open"
	StatusGoalAchieved Status = "goal-achieved"
	StatusDisbursed    Status = "disbursed"
	StatusExpired      Status = "expired"
)

// PoolDetails is a read-only snapshot of a pool.
type PoolDetails struct {
	ID                uint64
	Initiator         common.Address
	Beneficiary       common.Address
	Description       string
	GoalAmount        *uint256.Int
	CurrentAmount     *uint256.Int
	DeadlineTimestamp *uint256.Int
	GoalAchieved      bool
	FundsDisbursed    bool
}

// Status reports where the pool is in its lifecycle at time now.
func (p PoolDetails) Status(now uint64) Status {
	switch {
	case p.FundsDisbursed:
		return StatusDisbursed
	case p.GoalAchieved:
		return StatusGoalAchieved
	case uint256.NewInt(now).Cmp(p.DeadlineTimestamp) >= 0:
		return StatusExpired
	default:
		return StatusOpen
	}
}

type pool struct {
	initiator      common.Address
	beneficiary    common.Address
	description    string
	goalAmount     *uint256.Int
	currentAmount  *uint256.Int
	deadline       *uint256.Int
	goalAchieved   bool
	fundsDisbursed bool

	contributions map[common.Address]*uint256.Int
	contributors  []common.Address
}

func (p *pool) contributionOf(addr common.Address) *uint256.Int {
	if amount, ok := p.contributions[addr]; ok {
		return amount
	}
	return new(uint256.Int)
}

func (p *pool) details(id uint64) PoolDetails {
	return PoolDetails{
		ID:                id,
		Initiator:         p.initiator,
		Beneficiary:       p.beneficiary,
		Description:       p.description,
		GoalAmount:        p.goalAmount.Clone(),
		CurrentAmount:     p.currentAmount.Clone(),
		DeadlineTimestamp: p.deadline.Clone(),
		GoalAchieved:      p.goalAchieved,
		FundsDisbursed:    p.fundsDisbursed,
	}
}
