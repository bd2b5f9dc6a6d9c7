package poolclient

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/compose-network/poolescrow/internal/escrow"
	"github.com/holiman/uint256"
)

var weiPerEther = new(big.Float).SetInt(big.NewInt(1e18))

// FormatPool renders a pool for terminal output, with amounts in ETH.
func FormatPool(pool escrow.PoolDetails, now uint64) string {
	var b strings.Builder

	fmt.Fprintf(&b, "pool %d [%s]\n", pool.ID, pool.Status(now))
	fmt.Fprintf(&b, "  description: %s\n", pool.Description)
	fmt.Fprintf(&b, "  initiator:   %s\n", pool.Initiator.Hex())
	fmt.Fprintf(&b, "  beneficiary: %s\n", pool.Beneficiary.Hex())
	fmt.Fprintf(&b, "  raised:      %s / %s\n", FormatWei(pool.CurrentAmount), FormatWei(pool.GoalAmount))
	fmt.Fprintf(&b, "  deadline:    %s\n", formatDeadline(pool.DeadlineTimestamp))
	fmt.Fprintf(&b, "  achieved=%t disbursed=%t", pool.GoalAchieved, pool.FundsDisbursed)

	return b.String()
}

// FormatWei formats a wei amount as ETH with four decimals, followed by the raw value.
func FormatWei(amount *uint256.Int) string {
	if amount == nil {
		amount = new(uint256.Int)
	}

	wei := amount.ToBig()
	eth := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther)

	return fmt.Sprintf("%.4f ETH (%s wei)", eth, wei.String())
}

func formatDeadline(ts *uint256.Int) string {
	if ts == nil {
		return "unset"
	}
	if !ts.IsUint64() || ts.Uint64() > 1<<62 {
		return ts.Dec()
	}
	return fmt.Sprintf("%s (%d)", time.Unix(int64(ts.Uint64()), 0).UTC().Format(time.RFC3339), ts.Uint64())
}
