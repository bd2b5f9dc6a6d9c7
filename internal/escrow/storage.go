package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Storage writes. Each one registers its undo with the host so a reverted call leaves
// the pools untouched.

func (e *Escrow) setPoolCount(n uint64) {
	previous := e.poolCount
	e.poolCount = n
	e.state.Record(func() { e.poolCount = previous })
}

func (e *Escrow) setContribution(p *pool, contributor common.Address, amount *uint256.Int) {
	previous, existed := p.contributions[contributor]
	p.contributions[contributor] = amount
	e.state.Record(func() {
		if existed {
			p.contributions[contributor] = previous
		} else {
			delete(p.contributions, contributor)
		}
	})
}

func (e *Escrow) appendContributor(p *pool, contributor common.Address) {
	p.contributors = append(p.contributors, contributor)
	e.state.Record(func() { p.contributors = p.contributors[:len(p.contributors)-1] })
}

func (e *Escrow) setCurrentAmount(p *pool, amount *uint256.Int) {
	previous := p.currentAmount
	p.currentAmount = amount
	e.state.Record(func() { p.currentAmount = previous })
}

func (e *Escrow) setGoalAchieved(p *pool) {
	p.goalAchieved = true
	e.state.Record(func() { p.goalAchieved = false })
}

func (e *Escrow) setFundsDisbursed(p *pool) {
	p.fundsDisbursed = true
	e.state.Record(func() { p.fundsDisbursed = false })
}

func poolID(id uint64) *big.Int {
	return new(big.Int).SetUint64(id)
}
