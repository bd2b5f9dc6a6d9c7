package rollout

import (
	"fmt"
	"log/slog"

	"github.com/compose-network/poolescrow/configs"
	"github.com/compose-network/poolescrow/internal/cli"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/compose-network/poolescrow/internal/deployer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var CMD = &cobra.Command{
	Use:   "rollout",
	Short: "Deploy the escrow through the deterministic deployer on every configured chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		slog.Info("starting rollout command. Validating config", slog.Any("chains", configs.Values.Chains))

		if err := configs.Values.ValidateRollout(); err != nil {
			return err
		}

		opts, err := OptionsFromConfig(configs.Values)
		if err != nil {
			return err
		}

		results, err := NewService(opts, DialEthClient).Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("error occurred during rollout: %w", err)
		}

		manifest, err := BuildManifest(opts, results)
		if err != nil {
			return err
		}
		if err := WriteManifest(configs.Values.Rollout.Output, manifest); err != nil {
			return err
		}

		slog.With("escrow", manifest.Escrow.Address.Hex()).With("output", configs.Values.Rollout.Output).Info("rollout finished, manifest written")

		return nil
	},
}

// AddressCMD prints the escrow address without touching any chain.
var AddressCMD = &cobra.Command{
	Use:   "address",
	Short: "Print the address the escrow will have on every chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := configs.Values.ValidateAddress(); err != nil {
			return err
		}

		addr, err := PredictAddress(configs.Values)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())

		return nil
	},
}

// PredictAddress computes the escrow address from the configured deployer, salt, owner
// and artifact.
func PredictAddress(cfg configs.Config) (common.Address, error) {
	contract, err := contracts.LoadArtifact(cfg.Escrow.Artifact, contracts.ContractName(cfg.Escrow.ContractName))
	if err != nil {
		return common.Address{}, err
	}

	initCode, err := contract.DeploymentCode(common.HexToAddress(cfg.Escrow.Owner))
	if err != nil {
		return common.Address{}, err
	}

	return deployer.CreateAddress(
		common.HexToAddress(cfg.Deployer.Address),
		cfg.Deployer.SaltBytes(),
		crypto.Keccak256Hash(initCode),
	), nil
}

func init() {
	cli.MustDeclare(CMD, false, []cli.FlagDef[string]{
		{Name: "output", ViperKey: "rollout.output", DefaultValue: "output.yaml", Description: "Path of the rollout manifest"},
		{Name: "private-key", ViperKey: "wallet.private-key", DefaultValue: "", Description: "Private key of the account sending deployment transactions"},
	})
	cli.MustDeclare(CMD, false, []cli.FlagDef[int]{
		{Name: "gas-limit", ViperKey: "rollout.gas-limit", DefaultValue: 3_000_000, Description: "Gas limit of each deployment transaction"},
		{Name: "rpc-wait-attempts", ViperKey: "rollout.rpc-wait-attempts", DefaultValue: 120, Description: "How many times to retry an unreachable RPC endpoint"},
	})
	cli.MustDeclare(CMD, false, []cli.FlagDef[bool]{
		{Name: "wait-for-receipt", ViperKey: "rollout.wait-for-receipt", DefaultValue: true, Description: "Wait for each deployment to be mined"},
	})
}
