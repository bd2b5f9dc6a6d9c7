// Package chain is a small in-process execution host for the escrow and deployer
// contracts. It keeps native balances, contract code, a block clock and an event log,
// and runs every state-mutating call atomically: a failed call leaves no trace.
package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

var ErrClockBackwards = errors.New("block time cannot move backwards")

type (
	// Receiver runs when a contract account receives value. Returning an error rejects
	// the transfer.
	Receiver interface {
		Receive(from common.Address, amount *uint256.Int) error
	}

	// ReceiverFunc adapts a function to Receiver.
	ReceiverFunc func(from common.Address, amount *uint256.Int) error

	// Msg is the caller context of a state-mutating call.
	Msg struct {
		From  common.Address
		Value *uint256.Int
	}

	// State is the host. It is not safe for concurrent use: calls are serialized by the
	// caller, the same way a block orders transactions.
	State struct {
		balances    map[common.Address]*uint256.Int
		code        map[common.Address][]byte
		receivers   map[common.Address]Receiver
		logs        []*types.Log
		blockTime   uint64
		blockNumber uint64
		journal     []func()
		depth       int
	}
)

func (f ReceiverFunc) Receive(from common.Address, amount *uint256.Int) error {
	return f(from, amount)
}

// NewMsg builds a call context carrying value wei.
func NewMsg(from common.Address, value uint64) Msg {
	return Msg{From: from, Value: uint256.NewInt(value)}
}

// CallValue returns the attached value, never nil.
func (m Msg) CallValue() *uint256.Int {
	if m.Value == nil {
		return new(uint256.Int)
	}
	return m.Value
}

// NewState creates an empty host whose clock starts at genesisTime (unix seconds).
func NewState(genesisTime uint64) *State {
	return &State{
		balances:    make(map[common.Address]*uint256.Int),
		code:        make(map[common.Address][]byte),
		receivers:   make(map[common.Address]Receiver),
		blockTime:   genesisTime,
		blockNumber: 1,
	}
}

// Now returns the current block timestamp.
func (s *State) Now() uint64 {
	return s.blockTime
}

func (s *State) BlockNumber() uint64 {
	return s.blockNumber
}

// Advance moves the clock forward and mines a new block.
func (s *State) Advance(seconds uint64) {
	s.blockTime += seconds
	s.blockNumber++
}

// SetTime moves the clock to ts. The clock is monotonic.
func (s *State) SetTime(ts uint64) error {
	if ts < s.blockTime {
		return fmt.Errorf("%w: %d < %d", ErrClockBackwards, ts, s.blockTime)
	}
	s.Advance(ts - s.blockTime)
	return nil
}

// Execute runs fn atomically. When fn fails every journaled change made inside it is
// undone. Execute nests: an inner failure only rolls back the inner portion.
func (s *State) Execute(fn func() error) error {
	mark := len(s.journal)
	s.depth++
	err := fn()
	s.depth--

	if err != nil {
		s.revertTo(mark)
		return err
	}

	if s.depth == 0 {
		s.journal = s.journal[:0]
	}

	return nil
}

// Record registers an undo step for a storage write made by a contract.
func (s *State) Record(undo func()) {
	s.journal = append(s.journal, undo)
}

func (s *State) revertTo(mark int) {
	for i := len(s.journal) - 1; i >= mark; i-- {
		s.journal[i]()
	}
	s.journal = s.journal[:mark]
}

// Balance returns a copy of the native balance of addr.
func (s *State) Balance(addr common.Address) *uint256.Int {
	return s.balanceOf(addr).Clone()
}

func (s *State) balanceOf(addr common.Address) *uint256.Int {
	if bal, ok := s.balances[addr]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (s *State) setBalance(addr common.Address, amount *uint256.Int) {
	prev, existed := s.balances[addr]
	s.Record(func() {
		if existed {
			s.balances[addr] = prev
		} else {
			delete(s.balances, addr)
		}
	})
	s.balances[addr] = amount
}

// Mint credits amount to addr out of thin air. It is how accounts get funded.
func (s *State) Mint(addr common.Address, amount *uint256.Int) error {
	return s.Execute(func() error {
		next, overflow := new(uint256.Int).AddOverflow(s.balanceOf(addr), amount)
		if overflow {
			return ErrBalanceOverflow
		}
		s.setBalance(addr, next)
		return nil
	})
}

// Transfer moves amount from one account to another. If the recipient has a Receiver
// attached, it runs as part of the transfer and may call back into contracts; an error
// from it fails the transfer with ErrTransferFailed.
func (s *State) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}

	return s.Execute(func() error {
		fromBalance := s.balanceOf(from)
		if fromBalance.Lt(amount) {
			return ErrInsufficientBalance
		}
		s.setBalance(from, new(uint256.Int).Sub(fromBalance, amount))

		next, overflow := new(uint256.Int).AddOverflow(s.balanceOf(to), amount)
		if overflow {
			return ErrBalanceOverflow
		}
		s.setBalance(to, next)

		if receiver, ok := s.receivers[to]; ok {
			if err := receiver.Receive(from, amount.Clone()); err != nil {
				return fmt.Errorf("%w: %w", ErrTransferFailed, err)
			}
		}

		return nil
	})
}

// SetReceiver attaches code that runs when addr receives value. A nil receiver detaches.
func (s *State) SetReceiver(addr common.Address, receiver Receiver) {
	if receiver == nil {
		delete(s.receivers, addr)
		return
	}
	s.receivers[addr] = receiver
}

// CodeAt returns a copy of the code stored at addr.
func (s *State) CodeAt(addr common.Address) []byte {
	return common.CopyBytes(s.code[addr])
}

func (s *State) HasCode(addr common.Address) bool {
	return len(s.code[addr]) > 0
}

// CreateContract stores code at addr. It fails when addr already holds code.
func (s *State) CreateContract(addr common.Address, code []byte) error {
	if s.HasCode(addr) {
		return fmt.Errorf("%w: %s", ErrContractCollision, addr.Hex())
	}
	if len(code) == 0 {
		return ErrEmptyCode
	}

	s.code[addr] = common.CopyBytes(code)
	s.Record(func() { delete(s.code, addr) })

	return nil
}

// AddLog appends an event to the log, stamped with the current block.
func (s *State) AddLog(log *types.Log) {
	log.BlockNumber = s.blockNumber
	log.Index = uint(len(s.logs))
	s.logs = append(s.logs, log)
	s.Record(func() { s.logs = s.logs[:len(s.logs)-1] })
}

// Logs returns every event emitted by committed calls, oldest first.
func (s *State) Logs() []*types.Log {
	out := make([]*types.Log, len(s.logs))
	copy(out, s.logs)
	return out
}

// LogsSince returns the events emitted after the first n.
func (s *State) LogsSince(n int) []*types.Log {
	if n >= len(s.logs) {
		return nil
	}
	out := make([]*types.Log, len(s.logs)-n)
	copy(out, s.logs[n:])
	return out
}
