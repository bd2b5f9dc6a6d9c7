// Package escrow implements the crowdfunding pool escrow: one contract holding many
// independent pools, each with a goal, a deadline and its own contributor ledger.
//
// A pool is open until its deadline. Reaching the goal closes it to contributions; after
// the deadline the beneficiary can be paid (goal reached) or every contributor can take
// their money back (goal missed). All calls run atomically on a chain.State, and value
// only leaves the escrow after the bookkeeping that guards it has been written.
package escrow

import (
	"fmt"
	"log/slog"

	"github.com/compose-network/poolescrow/internal/chain"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/compose-network/poolescrow/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Escrow is the pool escrow contract deployed at address.
type Escrow struct {
	state     *chain.State
	address   common.Address
	owner     common.Address
	pools     map[uint64]*pool
	poolCount uint64
	guard     reentrancyGuard
	logger    *slog.Logger
}

// New constructs the escrow at address with owner as its privileged account.
func New(state *chain.State, address, owner common.Address) (*Escrow, error) {
	if owner == (common.Address{}) {
		return nil, ErrInvalidOwner
	}

	e := &Escrow{
		state:   state,
		address: address,
		pools:   make(map[uint64]*pool),
		logger:  logger.Named("escrow").With("address", address.Hex()),
	}

	if err := state.Execute(func() error {
		e.owner = owner
		return e.emit("OwnershipTransferred", common.Address{}, owner)
	}); err != nil {
		return nil, fmt.Errorf("failed to construct escrow: %w", err)
	}

	return e, nil
}

func (e *Escrow) Address() common.Address {
	return e.address
}

func (e *Escrow) Owner() common.Address {
	return e.owner
}

// PoolCount returns how many pools were created; ids run from 1 to PoolCount.
func (e *Escrow) PoolCount() uint64 {
	return e.poolCount
}

// CreatePool opens a new pool and returns its id.
func (e *Escrow) CreatePool(msg chain.Msg, beneficiary common.Address, description string, goalAmount, deadline *uint256.Int) (uint64, error) {
	var id uint64

	err := e.state.Execute(func() error {
		if !msg.CallValue().IsZero() {
			return ErrNonPayable
		}
		if beneficiary == (common.Address{}) {
			return ErrInvalidBeneficiary
		}
		if goalAmount == nil || goalAmount.IsZero() {
			return ErrInvalidGoalAmount
		}
		if deadline == nil || !deadline.Gt(e.now()) {
			return ErrInvalidDeadline
		}

		next := e.poolCount + 1
		if next == 0 {
			return ErrArithmeticOverflow
		}
		e.setPoolCount(next)

		e.pools[next] = &pool{
			initiator:     msg.From,
			beneficiary:   beneficiary,
			description:   description,
			goalAmount:    goalAmount.Clone(),
			currentAmount: new(uint256.Int),
			deadline:      deadline.Clone(),
			contributions: make(map[common.Address]*uint256.Int),
		}
		e.state.Record(func() { delete(e.pools, next) })

		id = next
		return e.emit("PoolCreated", poolID(next), msg.From, beneficiary, description, goalAmount.ToBig(), deadline.ToBig())
	})
	if err != nil {
		e.logger.With("initiator", msg.From.Hex()).With("err", err.Error()).Debug("create pool reverted")
		return 0, err
	}

	e.logger.
		With("pool_id", id).
		With("initiator", msg.From.Hex()).
		With("beneficiary", beneficiary.Hex()).
		With("goal", goalAmount.Dec()).
		With("deadline", deadline.Dec()).
		Info("pool created")

	return id, nil
}

// Contribute adds msg.Value to the pool. The contribution that brings the pool to its goal
// marks it achieved.
func (e *Escrow) Contribute(msg chain.Msg, id uint64) error {
	release, err := e.guard.acquire()
	if err != nil {
		return err
	}
	defer release()

	amount := msg.CallValue()

	err = e.state.Execute(func() error {
		if err := e.state.Transfer(msg.From, e.address, amount); err != nil {
			return err
		}

		p, err := e.pool(id)
		if err != nil {
			return err
		}
		if !e.now().Lt(p.deadline) {
			return ErrDeadlinePassed
		}
		if p.goalAchieved {
			return ErrGoalAlreadyAchieved
		}
		if amount.IsZero() {
			return ErrZeroContribution
		}

		contribution, overflow := new(uint256.Int).AddOverflow(p.contributionOf(msg.From), amount)
		if overflow {
			return ErrArithmeticOverflow
		}
		total, overflow := new(uint256.Int).AddOverflow(p.currentAmount, amount)
		if overflow {
			return ErrArithmeticOverflow
		}

		if _, seen := p.contributions[msg.From]; !seen {
			e.appendContributor(p, msg.From)
		}
		e.setContribution(p, msg.From, contribution)
		e.setCurrentAmount(p, total)

		if err := e.emit("ContributionMade", poolID(id), msg.From, amount.ToBig(), total.ToBig()); err != nil {
			return err
		}

		if !p.goalAchieved && !total.Lt(p.goalAmount) {
			e.setGoalAchieved(p)
			return e.emit("GoalAchieved", poolID(id), total.ToBig())
		}

		return nil
	})
	if err != nil {
		e.logger.With("pool_id", id).With("contributor", msg.From.Hex()).With("err", err.Error()).Debug("contribution reverted")
		return err
	}

	e.logger.
		With("pool_id", id).
		With("contributor", msg.From.Hex()).
		With("amount", amount.Dec()).
		Info("contribution made")

	return nil
}

// DisburseFunds pays the whole pool to its beneficiary once the goal is achieved and the
// deadline has passed. Only the pool initiator or the escrow owner may call it.
func (e *Escrow) DisburseFunds(msg chain.Msg, id uint64) error {
	release, err := e.guard.acquire()
	if err != nil {
		return err
	}
	defer release()

	var amount *uint256.Int

	err = e.state.Execute(func() error {
		if !msg.CallValue().IsZero() {
			return ErrNonPayable
		}

		p, err := e.pool(id)
		if err != nil {
			return err
		}
		if msg.From != p.initiator && msg.From != e.owner {
			return ErrUnauthorized
		}
		if e.now().Lt(p.deadline) {
			return ErrDeadlineNotReached
		}
		if !p.goalAchieved {
			return ErrGoalNotAchieved
		}
		if p.fundsDisbursed {
			return ErrAlreadyDisbursed
		}

		e.setFundsDisbursed(p)

		amount = p.currentAmount.Clone()
		if err := e.state.Transfer(e.address, p.beneficiary, amount); err != nil {
			return err
		}

		return e.emit("FundsDisbursed", poolID(id), p.beneficiary, amount.ToBig())
	})
	if err != nil {
		e.logger.With("pool_id", id).With("caller", msg.From.Hex()).With("err", err.Error()).Debug("disbursement reverted")
		return err
	}

	e.logger.With("pool_id", id).With("amount", amount.Dec()).Info("funds disbursed")

	return nil
}

// ClaimRefund returns the caller's whole contribution to a pool that missed its goal.
func (e *Escrow) ClaimRefund(msg chain.Msg, id uint64) error {
	release, err := e.guard.acquire()
	if err != nil {
		return err
	}
	defer release()

	var amount *uint256.Int

	err = e.state.Execute(func() error {
		if !msg.CallValue().IsZero() {
			return ErrNonPayable
		}

		p, err := e.pool(id)
		if err != nil {
			return err
		}
		if p.goalAchieved {
			return ErrGoalWasAchieved
		}
		if e.now().Lt(p.deadline) {
			return ErrDeadlineNotReached
		}

		amount = p.contributionOf(msg.From).Clone()
		if amount.IsZero() {
			return ErrNoContribution
		}

		// currentAmount keeps the total ever contributed.
		e.setContribution(p, msg.From, new(uint256.Int))

		if err := e.state.Transfer(e.address, msg.From, amount); err != nil {
			return err
		}

		return e.emit("RefundClaimed", poolID(id), msg.From, amount.ToBig())
	})
	if err != nil {
		e.logger.With("pool_id", id).With("contributor", msg.From.Hex()).With("err", err.Error()).Debug("refund reverted")
		return err
	}

	e.logger.
		With("pool_id", id).
		With("contributor", msg.From.Hex()).
		With("amount", amount.Dec()).
		Info("refund claimed")

	return nil
}

// TransferOwnership hands the owner role to newOwner.
func (e *Escrow) TransferOwnership(msg chain.Msg, newOwner common.Address) error {
	return e.state.Execute(func() error {
		if !msg.CallValue().IsZero() {
			return ErrNonPayable
		}
		if msg.From != e.owner {
			return ErrUnauthorized
		}
		if newOwner == (common.Address{}) {
			return ErrInvalidOwner
		}

		previous := e.owner
		e.owner = newOwner
		e.state.Record(func() { e.owner = previous })

		return e.emit("OwnershipTransferred", previous, newOwner)
	})
}

// GetPoolDetails returns a snapshot of the pool.
func (e *Escrow) GetPoolDetails(id uint64) (PoolDetails, error) {
	p, err := e.pool(id)
	if err != nil {
		return PoolDetails{}, err
	}
	return p.details(id), nil
}

// GetContribution returns how much contributor currently has in the pool.
func (e *Escrow) GetContribution(id uint64, contributor common.Address) (*uint256.Int, error) {
	p, err := e.pool(id)
	if err != nil {
		return nil, err
	}
	return p.contributionOf(contributor).Clone(), nil
}

// GetContributors returns every address that ever contributed, in order of first
// contribution.
func (e *Escrow) GetContributors(id uint64) ([]common.Address, error) {
	p, err := e.pool(id)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, len(p.contributors))
	copy(out, p.contributors)
	return out, nil
}

func (e *Escrow) pool(id uint64) (*pool, error) {
	p, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	return p, nil
}

func (e *Escrow) now() *uint256.Int {
	return uint256.NewInt(e.state.Now())
}

func (e *Escrow) emit(name string, args ...any) error {
	log, err := contracts.EncodeLog(contracts.EscrowABI, e.address, name, args...)
	if err != nil {
		return err
	}
	e.state.AddLog(log)
	return nil
}
