// Package deployer places contract code at addresses derived from a salt and the code's
// hash (CREATE2), so the same code lands at the same address on every chain where the
// deployer itself sits at the same address.
package deployer

import (
	"fmt"
	"log/slog"

	"github.com/compose-network/poolescrow/internal/chain"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/compose-network/poolescrow/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrDeploymentFailed = chain.NewRevert("DeploymentFailed", "deployment failed")

// Deployer is the deterministic deployer contract living at address on a chain.State.
type Deployer struct {
	state   *chain.State
	address common.Address
	logger  *slog.Logger
}

// New installs a deployer at address.
func New(state *chain.State, address common.Address, runtimeCode []byte) (*Deployer, error) {
	if err := state.Execute(func() error {
		return state.CreateContract(address, runtimeCode)
	}); err != nil {
		return nil, fmt.Errorf("failed to install deployer at %s: %w", address.Hex(), err)
	}

	return &Deployer{
		state:   state,
		address: address,
		logger:  logger.Named("deployer"),
	}, nil
}

// Address returns where the deployer lives.
func (d *Deployer) Address() common.Address {
	return d.address
}

// Deploy stores bytecode at the address ComputeAddress predicts for (bytecode, salt) and
// emits ContractDeployed. It fails with ErrDeploymentFailed when the bytecode is empty or
// the address already holds code, which makes a second deploy of the same pair fail.
func (d *Deployer) Deploy(msg chain.Msg, bytecode []byte, salt [32]byte) (common.Address, error) {
	var deployed common.Address

	err := d.state.Execute(func() error {
		target := d.ComputeAddress(bytecode, salt)

		if err := d.state.CreateContract(target, bytecode); err != nil {
			return fmt.Errorf("%w: %w", ErrDeploymentFailed, err)
		}

		log, err := contracts.EncodeLog(contracts.DeployerABI, d.address, "ContractDeployed", target, salt)
		if err != nil {
			return err
		}
		d.state.AddLog(log)

		deployed = target
		return nil
	})
	if err != nil {
		d.logger.With("sender", msg.From.Hex()).With("err", err.Error()).Debug("deployment reverted")
		return common.Address{}, err
	}

	d.logger.
		With("address", deployed.Hex()).
		With("salt", common.Hash(salt).Hex()).
		Info("contract deployed")

	return deployed, nil
}

// ComputeAddress returns the address Deploy would use for (bytecode, salt).
func (d *Deployer) ComputeAddress(bytecode []byte, salt [32]byte) common.Address {
	return CreateAddress(d.address, salt, crypto.Keccak256Hash(bytecode))
}

// ComputeAddressFromHash is ComputeAddress for callers that already hold the code hash.
func (d *Deployer) ComputeAddressFromHash(bytecodeHash common.Hash, salt [32]byte) common.Address {
	return CreateAddress(d.address, salt, bytecodeHash)
}

// CreateAddress is keccak256(0xff ++ deployer ++ salt ++ bytecodeHash)[12:].
func CreateAddress(deployer common.Address, salt [32]byte, bytecodeHash common.Hash) common.Address {
	return crypto.CreateAddress2(deployer, salt, bytecodeHash.Bytes())
}
