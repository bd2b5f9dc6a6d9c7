package scenario

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/compose-network/poolescrow/configs"
	"github.com/compose-network/poolescrow/internal/chain"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/compose-network/poolescrow/internal/deployer"
	"github.com/compose-network/poolescrow/internal/escrow"
	"github.com/compose-network/poolescrow/internal/logger"
	"github.com/compose-network/poolescrow/internal/poolclient"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const defaultGenesisTime = 1_700_000_000

var (
	ErrUnexpectedOutcome = errors.New("step outcome differs from expectation")

	// Placeholder code for when no compiled artifact is supplied. Only its hash matters.
	placeholderEscrowCode = []byte("poolescrow")
	deployerRuntimeCode   = []byte("deterministic-deployer")
)

type (
	StepResult struct {
		Index  int
		Action Action
		PoolID uint64
		// Failure is the name of the failure the step reverted with, if any.
		Failure string
	}

	Report struct {
		Name     string
		Escrow   common.Address
		Now      uint64
		Steps    []StepResult
		Pools    []escrow.PoolDetails
		Balances map[string]*uint256.Int
		Events   []contracts.Event
	}

	Runner struct {
		// EscrowCode is the creation bytecode deployed for the escrow. Supplying the real
		// artifact makes the reported address match a live rollout.
		EscrowCode []byte
		logger     *slog.Logger
	}
)

func NewRunner(escrowCode []byte) *Runner {
	if len(escrowCode) == 0 {
		escrowCode = placeholderEscrowCode
	}
	return &Runner{
		EscrowCode: escrowCode,
		logger:     logger.Named("scenario"),
	}
}

// Run executes every step of s in order. A step that fails without an expect-error, or
// that succeeds or fails differently from its expect-error, stops the run; the report up
// to that step is returned together with the error.
func (r *Runner) Run(s Scenario) (Report, error) {
	genesis := s.GenesisTime
	if genesis == 0 {
		genesis = defaultGenesisTime
	}
	state := chain.NewState(genesis)

	for name, account := range s.Accounts {
		if err := state.Mint(common.HexToAddress(account.Address), account.Balance.Wei()); err != nil {
			return Report{}, fmt.Errorf("failed to fund %s: %w", name, err)
		}
	}

	owner, err := s.resolve(s.Owner)
	if err != nil {
		return Report{}, err
	}

	e, err := r.deploy(state, s, owner)
	if err != nil {
		return Report{}, err
	}

	report := Report{Name: s.Name, Escrow: e.Address()}
	r.logger.With("scenario", s.Name).With("escrow", e.Address().Hex()).Info("escrow deployed, running steps")

	for i, step := range s.Steps {
		result, stepErr := r.runStep(state, e, &s, step)
		result.Index = i
		result.Action = step.Action

		if stepErr != nil {
			name, named := chain.RevertName(stepErr)
			if !named {
				report.finish(state, e, &s)
				return report, fmt.Errorf("step %d (%s): %w", i, step.Action, stepErr)
			}
			result.Failure = name
		}
		report.Steps = append(report.Steps, result)

		if result.Failure != step.ExpectError {
			report.finish(state, e, &s)
			return report, fmt.Errorf("%w: step %d (%s) expected %q, got %q", ErrUnexpectedOutcome, i, step.Action, step.ExpectError, result.Failure)
		}
	}

	report.finish(state, e, &s)

	return report, nil
}

func (r *Runner) deploy(state *chain.State, s Scenario, owner common.Address) (*escrow.Escrow, error) {
	d, err := deployer.New(state, common.HexToAddress(s.Deployer.Address), deployerRuntimeCode)
	if err != nil {
		return nil, err
	}

	ctorArgs, err := contracts.EscrowABI.Pack("", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack constructor arguments: %w", err)
	}
	initCode := append(common.CopyBytes(r.EscrowCode), ctorArgs...)

	var e *escrow.Escrow
	err = state.Execute(func() error {
		addr, err := d.Deploy(chain.NewMsg(owner, 0), initCode, configs.Deployer{Salt: s.Deployer.Salt}.SaltBytes())
		if err != nil {
			return err
		}
		e, err = escrow.New(state, addr, owner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deploy escrow: %w", err)
	}

	return e, nil
}

func (r *Runner) runStep(state *chain.State, e *escrow.Escrow, s *Scenario, step Step) (StepResult, error) {
	var result StepResult

	from, err := s.resolve(step.From)
	if err != nil {
		return result, err
	}
	msg := chain.Msg{From: from, Value: step.Value.Wei()}

	switch step.Action {
	case ActionCreate:
		beneficiary, err := s.resolve(step.Beneficiary)
		if err != nil {
			return result, err
		}
		deadline := step.Deadline
		if deadline == 0 {
			deadline = state.Now() + step.DeadlineIn
		}
		result.PoolID, err = e.CreatePool(msg, beneficiary, step.Description, step.Goal.Wei(), uint256.NewInt(deadline))
		return result, err

	case ActionContribute:
		result.PoolID = step.Pool
		return result, e.Contribute(msg, step.Pool)

	case ActionDisburse:
		result.PoolID = step.Pool
		return result, e.DisburseFunds(msg, step.Pool)

	case ActionRefund:
		result.PoolID = step.Pool
		return result, e.ClaimRefund(msg, step.Pool)

	case ActionTransferOwnership:
		newOwner, err := s.resolve(step.NewOwner)
		if err != nil {
			return result, err
		}
		return result, e.TransferOwnership(msg, newOwner)

	case ActionAdvance:
		state.Advance(step.Seconds)
		return result, nil
	}

	return result, fmt.Errorf("unknown action %q", step.Action)
}

func (rep *Report) finish(state *chain.State, e *escrow.Escrow, s *Scenario) {
	rep.Now = state.Now()

	rep.Pools = rep.Pools[:0]
	for id := uint64(1); id <= e.PoolCount(); id++ {
		if pool, err := e.GetPoolDetails(id); err == nil {
			rep.Pools = append(rep.Pools, pool)
		}
	}

	rep.Balances = make(map[string]*uint256.Int, len(s.Accounts)+1)
	for name, account := range s.Accounts {
		rep.Balances[name] = state.Balance(common.HexToAddress(account.Address))
	}
	rep.Balances["escrow"] = state.Balance(e.Address())

	rep.Events = rep.Events[:0]
	for _, log := range state.Logs() {
		if log.Address != e.Address() {
			continue
		}
		if event, err := contracts.DecodeEscrowLog(*log); err == nil {
			rep.Events = append(rep.Events, event)
		}
	}
}

// Format renders the report for terminal output.
func (rep Report) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "scenario %q, escrow at %s\n", rep.Name, rep.Escrow.Hex())

	b.WriteString("\nsteps:\n")
	for _, step := range rep.Steps {
		outcome := "ok"
		if step.Failure != "" {
			outcome = "reverted " + step.Failure
		}
		fmt.Fprintf(&b, "  %2d %-18s %s\n", step.Index, step.Action, outcome)
	}

	b.WriteString("\npools:\n")
	for _, pool := range rep.Pools {
		b.WriteString(poolclient.FormatPool(pool, rep.Now))
		b.WriteString("\n")
	}

	b.WriteString("\nbalances:\n")
	names := make([]string, 0, len(rep.Balances))
	for name := range rep.Balances {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %-10s %s\n", name, poolclient.FormatWei(rep.Balances[name]))
	}

	b.WriteString("\nevents:\n")
	for _, event := range rep.Events {
		fmt.Fprintf(&b, "  block %d %s\n", event.Log().BlockNumber, event.EventName())
	}

	return b.String()
}
