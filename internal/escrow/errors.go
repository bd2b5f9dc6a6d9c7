package escrow

import "github.com/compose-network/poolescrow/internal/chain"

// Named failure conditions. The names match the custom errors of the escrow ABI.
var (
	ErrInvalidBeneficiary  = chain.NewRevert("InvalidBeneficiary", "beneficiary is the zero address")
	ErrInvalidGoalAmount   = chain.NewRevert("InvalidGoalAmount", "goal amount must be positive")
	ErrInvalidDeadline     = chain.NewRevert("InvalidDeadline", "deadline must be in the future")
	ErrPoolNotFound        = chain.NewRevert("PoolNotFound", "pool not found")
	ErrDeadlinePassed      = chain.NewRevert("DeadlinePassed", "pool deadline has passed")
	ErrGoalAlreadyAchieved = chain.NewRevert("GoalAlreadyAchieved", "pool goal already achieved")
	ErrZeroContribution    = chain.NewRevert("ZeroContribution", "contribution must be positive")
	ErrUnauthorized        = chain.NewRevert("Unauthorized", "caller is not authorized")
	ErrGoalNotAchieved     = chain.NewRevert("GoalNotAchieved", "pool goal not achieved")
	ErrAlreadyDisbursed    = chain.NewRevert("AlreadyDisbursed", "funds already disbursed")
	ErrDeadlineNotReached  = chain.NewRevert("DeadlineNotReached", "pool deadline not reached")
	ErrGoalWasAchieved     = chain.NewRevert("GoalWasAchieved", "pool goal was achieved, no refunds")
	ErrNoContribution      = chain.NewRevert("NoContribution", "no contribution to refund")
	ErrReentrantCall       = chain.NewRevert("ReentrantCall", "reentrant call")
	ErrInvalidOwner        = chain.NewRevert("InvalidOwner", "owner is the zero address")
	ErrArithmeticOverflow  = chain.NewRevert("ArithmeticOverflow", "arithmetic overflow")
	ErrNonPayable          = chain.NewRevert("NonPayable", "method does not accept value")

	// ErrTransferFailed is returned when the recipient of a payout rejects it.
	ErrTransferFailed = chain.ErrTransferFailed
)

var failures = map[string]*chain.Revert{}

func init() {
	for _, f := range []*chain.Revert{
		ErrInvalidBeneficiary, ErrInvalidGoalAmount, ErrInvalidDeadline, ErrPoolNotFound,
		ErrDeadlinePassed, ErrGoalAlreadyAchieved, ErrZeroContribution, ErrUnauthorized,
		ErrGoalNotAchieved, ErrAlreadyDisbursed, ErrDeadlineNotReached, ErrGoalWasAchieved,
		ErrNoContribution, ErrReentrantCall, ErrInvalidOwner, ErrArithmeticOverflow,
		ErrNonPayable, ErrTransferFailed,
	} {
		failures[f.Name] = f
	}
}

// FailureByName returns the sentinel error for an ABI error name.
func FailureByName(name string) (*chain.Revert, bool) {
	f, ok := failures[name]
	return f, ok
}
