package poolclient

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/compose-network/poolescrow/configs"
	"github.com/compose-network/poolescrow/internal/cli"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const chainKey = "pool.chain"

var CMD = &cobra.Command{
	Use:   "pool [id...]",
	Short: "Show pools of a deployed escrow; all of them when no id is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		chainName := configs.ChainName(viper.GetString(chainKey))
		if err := configs.Values.ValidatePool(chainName); err != nil {
			return err
		}

		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		chain := configs.Values.Chains[chainName]
		slog.With("chain_name", chainName).With("rpc_url", chain.RPCURL).Debug("connecting to chain")

		client, closeFn, err := Dial(cmd.Context(), chain.RPCURL, common.HexToAddress(configs.Values.Escrow.Address))
		if err != nil {
			return err
		}
		defer closeFn()

		out, err := client.Describe(cmd.Context(), ids, uint64(time.Now().Unix()))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)

		return nil
	},
}

// Describe renders the given pools with their contributors. With no ids every pool is
// shown.
func (c *Client) Describe(ctx context.Context, ids []uint64, now uint64) (string, error) {
	owner, err := c.Owner(ctx)
	if err != nil {
		return "", err
	}

	if len(ids) == 0 {
		count, err := c.PoolCount(ctx)
		if err != nil {
			return "", err
		}
		for id := uint64(1); id <= count; id++ {
			ids = append(ids, id)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "escrow %s, owner %s\n", c.address.Hex(), owner.Hex())

	for _, id := range ids {
		pool, err := c.Pool(ctx, id)
		if err != nil {
			return "", fmt.Errorf("pool %d: %w", id, err)
		}
		contributors, err := c.Contributors(ctx, id)
		if err != nil {
			return "", fmt.Errorf("pool %d: %w", id, err)
		}

		b.WriteString("\n")
		b.WriteString(FormatPool(pool, now))
		b.WriteString("\n")
		for _, contributor := range contributors {
			amount, err := c.Contribution(ctx, id, contributor)
			if err != nil {
				return "", fmt.Errorf("pool %d: %w", id, err)
			}
			fmt.Fprintf(&b, "  contributor %s: %s\n", contributor.Hex(), FormatWei(amount))
		}
	}

	return b.String(), nil
}

func parseIDs(args []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid pool id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func init() {
	cli.MustDeclare(CMD, false, []cli.FlagDef[string]{
		{Name: "chain", ViperKey: chainKey, DefaultValue: "rollup-a", Description: "Name of the configured chain to read from"},
	})
}
