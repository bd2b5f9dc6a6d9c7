// Package poolclient reads pool escrow state from a live node over JSON-RPC.
package poolclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/compose-network/poolescrow/internal/escrow"
	"github.com/compose-network/poolescrow/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

// Client is a read-only view of one deployed escrow.
type Client struct {
	caller  ethereum.ContractCaller
	address common.Address
	logger  *slog.Logger
}

// Dial connects to rpcURL and returns a client for the escrow at address together with a
// close func for the connection.
func Dial(ctx context.Context, rpcURL string, address common.Address) (*Client, func(), error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	return New(ec, address), ec.Close, nil
}

func New(caller ethereum.ContractCaller, address common.Address) *Client {
	return &Client{
		caller:  caller,
		address: address,
		logger:  logger.Named("pool_client").With("escrow", address.Hex()),
	}
}

// Pool returns the details of pool id.
func (c *Client) Pool(ctx context.Context, id uint64) (escrow.PoolDetails, error) {
	var out struct {
		Initiator         common.Address
		Beneficiary       common.Address
		Description       string
		GoalAmount        *big.Int
		CurrentAmount     *big.Int
		DeadlineTimestamp *big.Int
		GoalAchieved      bool
		FundsDisbursed    bool
	}
	if err := c.call(ctx, &out, "getPoolDetails", new(big.Int).SetUint64(id)); err != nil {
		return escrow.PoolDetails{}, err
	}

	return escrow.PoolDetails{
		ID:                id,
		Initiator:         out.Initiator,
		Beneficiary:       out.Beneficiary,
		Description:       out.Description,
		GoalAmount:        toUint256(out.GoalAmount),
		CurrentAmount:     toUint256(out.CurrentAmount),
		DeadlineTimestamp: toUint256(out.DeadlineTimestamp),
		GoalAchieved:      out.GoalAchieved,
		FundsDisbursed:    out.FundsDisbursed,
	}, nil
}

func (c *Client) Contribution(ctx context.Context, id uint64, contributor common.Address) (*uint256.Int, error) {
	var amount *big.Int
	if err := c.call(ctx, &amount, "getContribution", new(big.Int).SetUint64(id), contributor); err != nil {
		return nil, err
	}
	return toUint256(amount), nil
}

func (c *Client) Contributors(ctx context.Context, id uint64) ([]common.Address, error) {
	var contributors []common.Address
	if err := c.call(ctx, &contributors, "getContributors", new(big.Int).SetUint64(id)); err != nil {
		return nil, err
	}
	return contributors, nil
}

func (c *Client) PoolCount(ctx context.Context) (uint64, error) {
	var count *big.Int
	if err := c.call(ctx, &count, "poolCount"); err != nil {
		return 0, err
	}
	if !count.IsUint64() {
		return 0, fmt.Errorf("pool count %s out of range", count)
	}
	return count.Uint64(), nil
}

func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	var owner common.Address
	if err := c.call(ctx, &owner, "owner"); err != nil {
		return common.Address{}, err
	}
	return owner, nil
}

func (c *Client) call(ctx context.Context, out any, method string, args ...any) error {
	data, err := contracts.EscrowABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}

	result, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		if failure := revertFailure(err); failure != nil {
			return failure
		}
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(result) == 0 {
		return fmt.Errorf("no contract code at %s", c.address.Hex())
	}

	if err := contracts.EscrowABI.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("failed to unpack %s: %w", method, err)
	}

	c.logger.With("method", method).Debug("call completed")

	return nil
}

// revertFailure maps revert data carried by an RPC error onto the escrow's sentinel errors.
// It returns nil when err carries no revert data the escrow ABI knows about.
func revertFailure(err error) error {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil
	}

	var data []byte
	switch v := dataErr.ErrorData().(type) {
	case string:
		data = common.FromHex(v)
	case []byte:
		data = v
	default:
		return nil
	}

	name, custom, parseErr := contracts.RevertName(contracts.EscrowABI, data)
	if parseErr != nil {
		return nil
	}
	if !custom {
		return fmt.Errorf("execution reverted: %s", name)
	}

	if failure, ok := escrow.FailureByName(name); ok {
		return failure
	}
	return fmt.Errorf("execution reverted: %s", name)
}

func toUint256(v *big.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	out, _ := uint256.FromBig(v)
	return out
}
