// Package scenario runs scripted pool lifecycles against an in-process chain: the escrow
// is deployed through the deterministic deployer and every step is executed atomically.
package scenario

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

type Action string

const (
	ActionCreate            Action = "create"
	ActionContribute        Action = "contribute"
	ActionAdvance           Action = "advance"
	ActionDisburse          Action = "disburse"
	ActionRefund            Action = "refund"
	ActionTransferOwnership Action = "transfer-ownership"
)

type (
	Scenario struct {
		Name        string             `yaml:"name"`
		GenesisTime uint64             `yaml:"genesis-time"`
		Deployer    Deployer           `yaml:"deployer"`
		Owner       string             `yaml:"owner"`
		Accounts    map[string]Account `yaml:"accounts"`
		Steps       []Step             `yaml:"steps"`
	}

	Deployer struct {
		Address string `yaml:"address"`
		Salt    string `yaml:"salt"`
	}

	Account struct {
		Address string `yaml:"address"`
		Balance Amount `yaml:"balance"`
	}

	Step struct {
		Action      Action `yaml:"action"`
		From        string `yaml:"from"`
		Pool        uint64 `yaml:"pool"`
		Value       Amount `yaml:"value"`
		Beneficiary string `yaml:"beneficiary"`
		Description string `yaml:"description"`
		Goal        Amount `yaml:"goal"`
		Deadline    uint64 `yaml:"deadline"`
		DeadlineIn  uint64 `yaml:"deadline-in"`
		Seconds     uint64 `yaml:"seconds"`
		NewOwner    string `yaml:"new-owner"`
		ExpectError string `yaml:"expect-error"`
	}

	// Amount is a wei quantity written either as a plain integer or with an "ether" or
	// "gwei" unit, e.g. "0.5 ether".
	Amount struct {
		wei *uint256.Int
	}
)

var units = map[string]*big.Int{
	"wei":   big.NewInt(1),
	"gwei":  big.NewInt(1_000_000_000),
	"ether": big.NewInt(1_000_000_000_000_000_000),
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseAmount(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	a.wei = v
	return nil
}

// Wei returns the amount, zero when unset.
func (a Amount) Wei() *uint256.Int {
	if a.wei == nil {
		return new(uint256.Int)
	}
	return a.wei.Clone()
}

func ParseAmount(s string) (*uint256.Int, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 || len(fields) > 2 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}

	unit := units["wei"]
	if len(fields) == 2 {
		u, ok := units[strings.ToLower(fields[1])]
		if !ok {
			return nil, fmt.Errorf("unknown unit %q in amount %q", fields[1], s)
		}
		unit = u
	}

	r, ok := new(big.Rat).SetString(fields[0])
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(unit))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q is not a whole number of wei", s)
	}

	v, overflow := uint256.FromBig(r.Num())
	if overflow {
		return nil, fmt.Errorf("amount %q overflows 256 bits", s)
	}
	return v, nil
}

func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

func (s *Scenario) Validate() error {
	var errs []error

	if !common.IsHexAddress(s.Deployer.Address) {
		errs = append(errs, errors.New("deployer.address must be a hex address"))
	}
	if _, err := s.resolve(s.Owner); err != nil {
		errs = append(errs, fmt.Errorf("owner: %w", err))
	}
	for name, account := range s.Accounts {
		if !common.IsHexAddress(account.Address) {
			errs = append(errs, fmt.Errorf("accounts.%s.address must be a hex address", name))
		}
	}

	for i, step := range s.Steps {
		switch step.Action {
		case ActionCreate, ActionContribute, ActionDisburse, ActionRefund, ActionTransferOwnership:
			if _, err := s.resolve(step.From); err != nil {
				errs = append(errs, fmt.Errorf("steps[%d].from: %w", i, err))
			}
		case ActionAdvance:
			if step.Seconds == 0 {
				errs = append(errs, fmt.Errorf("steps[%d].seconds must be positive", i))
			}
		default:
			errs = append(errs, fmt.Errorf("steps[%d]: unknown action %q", i, step.Action))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("scenario validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// resolve maps an account name or a hex address to an address. The empty string is the
// zero address, which lets a scenario exercise the zero-address checks.
func (s *Scenario) resolve(ref string) (common.Address, error) {
	if ref == "" {
		return common.Address{}, nil
	}
	if account, ok := s.Accounts[ref]; ok {
		return common.HexToAddress(account.Address), nil
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}
	return common.Address{}, fmt.Errorf("unknown account %q", ref)
}
