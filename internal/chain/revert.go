package chain

import "errors"

// Revert is a named failure condition. Returning one from a call aborts it; the name is
// what callers see in the contract ABI.
type Revert struct {
	Name   string
	reason string
}

var (
	ErrInsufficientBalance = NewRevert("InsufficientBalance", "insufficient balance")
	ErrBalanceOverflow     = NewRevert("ArithmeticOverflow", "balance overflow")
	ErrTransferFailed      = NewRevert("TransferFailed", "value transfer rejected by recipient")
	ErrContractCollision   = NewRevert("ContractCollision", "address already holds code")
	ErrEmptyCode           = NewRevert("EmptyCode", "contract code is empty")
)

func NewRevert(name, reason string) *Revert {
	return &Revert{Name: name, reason: reason}
}

func (r *Revert) Error() string {
	return r.reason
}

// RevertName returns the name of the first Revert found in err's chain.
func RevertName(err error) (string, bool) {
	var r *Revert
	if errors.As(err, &r) {
		return r.Name, true
	}
	return "", false
}
