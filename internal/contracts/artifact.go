package contracts

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// CompiledContract is a build artifact ready for deployment.
type CompiledContract struct {
	ABI      abi.ABI
	RawABI   string
	Bytecode []byte
}

type rawArtifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode json.RawMessage `json:"bytecode"`
}

// LoadArtifact reads a compiled contract from path. Two layouts are accepted: a single
// forge artifact ({"abi": [...], "bytecode": {"object": "0x..."}}) and a contracts.json
// map of name to {"abi": [...], "bytecode": "0x..."}, from which name is picked.
func LoadArtifact(path string, name ContractName) (CompiledContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CompiledContract{}, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	return parseArtifact(data, name)
}

func parseArtifact(data []byte, name ContractName) (CompiledContract, error) {
	var single rawArtifact
	if err := json.Unmarshal(data, &single); err == nil && len(single.Bytecode) > 0 {
		return buildContract(name, single)
	}

	var set map[string]rawArtifact
	if err := json.Unmarshal(data, &set); err != nil {
		return CompiledContract{}, fmt.Errorf("failed to parse compiled contracts: %w", err)
	}

	artifact, ok := set[string(name)]
	if !ok {
		return CompiledContract{}, fmt.Errorf("contract %s not found in artifact", name)
	}

	return buildContract(name, artifact)
}

func buildContract(name ContractName, artifact rawArtifact) (CompiledContract, error) {
	parsedABI, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return CompiledContract{}, fmt.Errorf("failed to parse ABI for %s: %w", name, err)
	}

	bytecodeHex, err := bytecodeString(artifact.Bytecode)
	if err != nil {
		return CompiledContract{}, fmt.Errorf("failed to read bytecode for %s: %w", name, err)
	}

	bytecode := common.FromHex(bytecodeHex)
	if len(bytecode) == 0 {
		return CompiledContract{}, fmt.Errorf("bytecode for %s is empty", name)
	}

	return CompiledContract{
		ABI:      parsedABI,
		RawABI:   string(artifact.ABI),
		Bytecode: bytecode,
	}, nil
}

// bytecodeString accepts both "0x..." and {"object": "0x..."}.
func bytecodeString(raw json.RawMessage) (string, error) {
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, nil
	}

	var forge struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(raw, &forge); err != nil {
		return "", err
	}

	return forge.Object, nil
}

// DeploymentCode appends the ABI-encoded constructor arguments to the creation bytecode.
func (c CompiledContract) DeploymentCode(constructorArgs ...any) ([]byte, error) {
	packed, err := c.ABI.Pack("", constructorArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack constructor arguments: %w", err)
	}

	return append(common.CopyBytes(c.Bytecode), packed...), nil
}
