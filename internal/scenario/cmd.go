package scenario

import (
	"fmt"
	"log/slog"

	"github.com/compose-network/poolescrow/configs"
	"github.com/compose-network/poolescrow/internal/cli"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const useArtifactKey = "simulate.use-artifact"

var CMD = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Run a scripted pool lifecycle against an in-process chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := Load(args[0])
		if err != nil {
			return err
		}

		var code []byte
		if viper.GetBool(useArtifactKey) {
			contract, err := contracts.LoadArtifact(configs.Values.Escrow.Artifact, contracts.ContractName(configs.Values.Escrow.ContractName))
			if err != nil {
				return err
			}
			code = contract.Bytecode
		}

		slog.With("scenario", s.Name).With("steps", len(s.Steps)).Info("running scenario")

		report, err := NewRunner(code).Run(s)
		fmt.Fprint(cmd.OutOrStdout(), report.Format())
		if err != nil {
			return fmt.Errorf("scenario %q failed: %w", s.Name, err)
		}

		return nil
	},
}

func init() {
	cli.MustDeclare(CMD, false, []cli.FlagDef[bool]{
		{Name: "use-artifact", ViperKey: useArtifactKey, DefaultValue: false, Description: "Deploy the bytecode of escrow.artifact so the address matches a live rollout"},
	})
}
