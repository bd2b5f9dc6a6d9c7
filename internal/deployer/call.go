package deployer

import (
	"fmt"

	"github.com/compose-network/poolescrow/internal/chain"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/ethereum/go-ethereum/common"
)

// Call executes ABI-encoded calldata against the deployer. On failure the returned bytes
// are the revert payload.
func (d *Deployer) Call(msg chain.Msg, calldata []byte) ([]byte, error) {
	if len(calldata) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(calldata))
	}

	method, err := contracts.DeployerABI.MethodById(calldata[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown selector 0x%x: %w", calldata[:4], err)
	}

	args, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s arguments: %w", method.Name, err)
	}

	if !msg.CallValue().IsZero() {
		return nil, fmt.Errorf("%s is not payable", method.Name)
	}

	var result common.Address
	switch method.Name {
	case "deploy":
		result, err = d.Deploy(msg, args[0].([]byte), args[1].([32]byte))
		if err != nil {
			return contracts.RevertData(contracts.DeployerABI, err), err
		}
	case "computeAddress":
		result = d.ComputeAddress(args[0].([]byte), args[1].([32]byte))
	case "computeAddressFromHash":
		result = d.ComputeAddressFromHash(common.Hash(args[0].([32]byte)), args[1].([32]byte))
	default:
		return nil, fmt.Errorf("method %s is not implemented", method.Name)
	}

	return method.Outputs.Pack(result)
}
