package contracts

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/compose-network/poolescrow/internal/chain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrUnknownRevert = errors.New("unknown revert data")

	// Error(string), the revert payload of require with a message.
	errorStringSelector = crypto.Keccak256([]byte("Error(string)"))[:4]
	errorStringArgs     = abi.Arguments{{Type: mustType("string")}}
)

// RevertData encodes err as the revert payload the contract would return: the custom
// error selector when the ABI declares one with the same name, Error(string) otherwise.
func RevertData(contract abi.ABI, err error) []byte {
	if name, ok := chain.RevertName(err); ok {
		if customErr, found := contract.Errors[name]; found {
			return append([]byte(nil), customErr.ID[:4]...)
		}
	}

	packed, packErr := errorStringArgs.Pack(err.Error())
	if packErr != nil {
		return append([]byte(nil), errorStringSelector...)
	}

	return append(append([]byte(nil), errorStringSelector...), packed...)
}

// RevertName resolves revert data back to the custom error name declared in contract.
// Error(string) payloads resolve to their message with custom set to false.
func RevertName(contract abi.ABI, data []byte) (name string, custom bool, err error) {
	if len(data) < 4 {
		return "", false, fmt.Errorf("%w: %d bytes", ErrUnknownRevert, len(data))
	}

	for _, customErr := range contract.Errors {
		if bytes.Equal(customErr.ID[:4], data[:4]) {
			return customErr.Name, true, nil
		}
	}

	if bytes.Equal(data[:4], errorStringSelector) {
		reason, unpackErr := abi.UnpackRevert(data)
		if unpackErr != nil {
			return "", false, fmt.Errorf("failed to unpack revert reason: %w", unpackErr)
		}
		return reason, false, nil
	}

	return "", false, fmt.Errorf("%w: selector 0x%x", ErrUnknownRevert, data[:4])
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
