// Package contracts holds the contract-call surface of the pool escrow and the
// deterministic deployer: their ABIs, event codecs, revert encoding and build artifacts.
package contracts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

type ContractName string

const (
	ContractNamePoolEscrow ContractName = "PoolEscrow"
	ContractNameDeployer   ContractName = "DeterministicDeployer"
)

var (
	//go:embed abi/*.json
	abiFS embed.FS

	EscrowABI   = mustLoadABI(ContractNamePoolEscrow)
	DeployerABI = mustLoadABI(ContractNameDeployer)
)

// RawABI returns the JSON ABI of the named contract, compacted.
func RawABI(name ContractName) (string, error) {
	data, err := abiFS.ReadFile(fmt.Sprintf("abi/%s.json", name))
	if err != nil {
		return "", fmt.Errorf("failed to read ABI for %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", fmt.Errorf("failed to compact ABI for %s: %w", name, err)
	}

	return buf.String(), nil
}

func mustLoadABI(name ContractName) abi.ABI {
	raw, err := RawABI(name)
	if err != nil {
		panic(err)
	}

	parsed, err := abi.JSON(bytes.NewReader([]byte(raw)))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI for %s: %v", name, err))
	}

	return parsed
}
