package contracts

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrUnknownEvent = errors.New("unknown event")

// Event is a decoded contract log. Field names follow the ABI argument names so the
// abi package can fill them.
type Event interface {
	EventName() string
	Log() types.Log
}

type (
	PoolCreated struct {
		PoolId            *big.Int
		Initiator         common.Address
		Beneficiary       common.Address
		Description       string
		GoalAmount        *big.Int
		DeadlineTimestamp *big.Int
		Raw               types.Log
	}

	ContributionMade struct {
		PoolId      *big.Int
		Contributor common.Address
		Amount      *big.Int
		NewTotal    *big.Int
		Raw         types.Log
	}

	GoalAchieved struct {
		PoolId      *big.Int
		TotalAmount *big.Int
		Raw         types.Log
	}

	FundsDisbursed struct {
		PoolId      *big.Int
		Beneficiary common.Address
		Amount      *big.Int
		Raw         types.Log
	}

	RefundClaimed struct {
		PoolId      *big.Int
		Contributor common.Address
		Amount      *big.Int
		Raw         types.Log
	}

	OwnershipTransferred struct {
		PreviousOwner common.Address
		NewOwner      common.Address
		Raw           types.Log
	}

	ContractDeployed struct {
		DeployedAddress common.Address
		Salt            [32]byte
		Raw             types.Log
	}
)

func (e *PoolCreated) EventName() string          { return "PoolCreated" }
func (e *ContributionMade) EventName() string     { return "ContributionMade" }
func (e *GoalAchieved) EventName() string         { return "GoalAchieved" }
func (e *FundsDisbursed) EventName() string       { return "FundsDisbursed" }
func (e *RefundClaimed) EventName() string        { return "RefundClaimed" }
func (e *OwnershipTransferred) EventName() string { return "OwnershipTransferred" }
func (e *ContractDeployed) EventName() string     { return "ContractDeployed" }

func (e *PoolCreated) Log() types.Log          { return e.Raw }
func (e *ContributionMade) Log() types.Log     { return e.Raw }
func (e *GoalAchieved) Log() types.Log         { return e.Raw }
func (e *FundsDisbursed) Log() types.Log       { return e.Raw }
func (e *RefundClaimed) Log() types.Log        { return e.Raw }
func (e *OwnershipTransferred) Log() types.Log { return e.Raw }
func (e *ContractDeployed) Log() types.Log     { return e.Raw }

// EncodeLog builds the log a contract at address emits for the named event. args are
// given in ABI order, indexed ones included.
func EncodeLog(contract abi.ABI, address common.Address, name string, args ...any) (*types.Log, error) {
	event, ok := contract.Events[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if len(args) != len(event.Inputs) {
		return nil, fmt.Errorf("event %s takes %d arguments, got %d", name, len(event.Inputs), len(args))
	}

	var (
		indexed [][]any
		data    []any
	)
	for i, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, []any{args[i]})
		} else {
			data = append(data, args[i])
		}
	}

	topics := []common.Hash{event.ID}
	if len(indexed) > 0 {
		encoded, err := abi.MakeTopics(indexed...)
		if err != nil {
			return nil, fmt.Errorf("failed to encode topics for %s: %w", name, err)
		}
		for _, topic := range encoded {
			topics = append(topics, topic[0])
		}
	}

	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data for %s: %w", name, err)
	}

	return &types.Log{
		Address: address,
		Topics:  topics,
		Data:    packed,
	}, nil
}

// DecodeEscrowLog decodes a log emitted by the pool escrow.
func DecodeEscrowLog(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: log has no topics", ErrUnknownEvent)
	}

	event, err := EscrowABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	var out Event
	switch event.Name {
	case "PoolCreated":
		out = &PoolCreated{Raw: log}
	case "ContributionMade":
		out = &ContributionMade{Raw: log}
	case "GoalAchieved":
		out = &GoalAchieved{Raw: log}
	case "FundsDisbursed":
		out = &FundsDisbursed{Raw: log}
	case "RefundClaimed":
		out = &RefundClaimed{Raw: log}
	case "OwnershipTransferred":
		out = &OwnershipTransferred{Raw: log}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event.Name)
	}

	if err := unpackLog(EscrowABI, event, out, log); err != nil {
		return nil, err
	}

	return out, nil
}

// DecodeDeployerLog decodes a ContractDeployed log.
func DecodeDeployerLog(log types.Log) (*ContractDeployed, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: log has no topics", ErrUnknownEvent)
	}

	event, err := DeployerABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	out := &ContractDeployed{Raw: log}
	if err := unpackLog(DeployerABI, event, out, log); err != nil {
		return nil, err
	}

	return out, nil
}

func unpackLog(contract abi.ABI, event *abi.Event, out any, log types.Log) error {
	if len(log.Data) > 0 {
		if err := contract.UnpackIntoInterface(out, event.Name, log.Data); err != nil {
			return fmt.Errorf("failed to unpack %s data: %w", event.Name, err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return fmt.Errorf("%s expects %d indexed topics, got %d", event.Name, len(indexed), len(log.Topics)-1)
	}

	if err := abi.ParseTopics(out, indexed, log.Topics[1:]); err != nil {
		return fmt.Errorf("failed to parse %s topics: %w", event.Name, err)
	}

	return nil
}
