package escrow

import (
	"fmt"
	"math/big"

	"github.com/compose-network/poolescrow/internal/chain"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Call executes ABI-encoded calldata against the escrow and returns the ABI-encoded
// result. On a named failure the returned bytes are the revert payload and err is the
// matching sentinel.
func (e *Escrow) Call(msg chain.Msg, calldata []byte) ([]byte, error) {
	if len(calldata) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(calldata))
	}

	method, err := contracts.EscrowABI.MethodById(calldata[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown selector 0x%x: %w", calldata[:4], err)
	}

	args, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s arguments: %w", method.Name, err)
	}

	out, err := e.dispatch(msg, method.Name, args)
	if err != nil {
		if _, named := chain.RevertName(err); named {
			return contracts.RevertData(contracts.EscrowABI, err), err
		}
		return nil, err
	}

	return method.Outputs.Pack(out...)
}

func (e *Escrow) dispatch(msg chain.Msg, method string, args []any) ([]any, error) {
	switch method {
	case "createPool":
		goal, err := amountArg(args[2])
		if err != nil {
			return nil, err
		}
		deadline, err := amountArg(args[3])
		if err != nil {
			return nil, err
		}
		id, err := e.CreatePool(msg, args[0].(common.Address), args[1].(string), goal, deadline)
		if err != nil {
			return nil, err
		}
		return []any{poolID(id)}, nil

	case "contribute":
		id, err := poolIDArg(args[0])
		if err != nil {
			return nil, err
		}
		return nil, e.Contribute(msg, id)

	case "disburseFunds":
		id, err := poolIDArg(args[0])
		if err != nil {
			return nil, err
		}
		return nil, e.DisburseFunds(msg, id)

	case "claimRefund":
		id, err := poolIDArg(args[0])
		if err != nil {
			return nil, err
		}
		return nil, e.ClaimRefund(msg, id)

	case "transferOwnership":
		return nil, e.TransferOwnership(msg, args[0].(common.Address))
	}

	// Everything below is a view and takes no value.
	if !msg.CallValue().IsZero() {
		return nil, ErrNonPayable
	}

	switch method {
	case "getPoolDetails":
		id, err := poolIDArg(args[0])
		if err != nil {
			return nil, err
		}
		pool, err := e.GetPoolDetails(id)
		if err != nil {
			return nil, err
		}
		return []any{
			pool.Initiator,
			pool.Beneficiary,
			pool.Description,
			pool.GoalAmount.ToBig(),
			pool.CurrentAmount.ToBig(),
			pool.DeadlineTimestamp.ToBig(),
			pool.GoalAchieved,
			pool.FundsDisbursed,
		}, nil

	case "getContribution":
		id, err := poolIDArg(args[0])
		if err != nil {
			return nil, err
		}
		amount, err := e.GetContribution(id, args[1].(common.Address))
		if err != nil {
			return nil, err
		}
		return []any{amount.ToBig()}, nil

	case "getContributors":
		id, err := poolIDArg(args[0])
		if err != nil {
			return nil, err
		}
		contributors, err := e.GetContributors(id)
		if err != nil {
			return nil, err
		}
		return []any{contributors}, nil

	case "poolCount":
		return []any{poolID(e.PoolCount())}, nil

	case "owner":
		return []any{e.Owner()}, nil
	}

	return nil, fmt.Errorf("method %s is not implemented", method)
}

// poolIDArg narrows an ABI uint256 to a pool id. Ids beyond uint64 can never have been
// allocated.
func poolIDArg(arg any) (uint64, error) {
	id := arg.(*big.Int)
	if !id.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return id.Uint64(), nil
}

func amountArg(arg any) (*uint256.Int, error) {
	amount, overflow := uint256.FromBig(arg.(*big.Int))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return amount, nil
}
