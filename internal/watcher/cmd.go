package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/compose-network/poolescrow/configs"
	"github.com/compose-network/poolescrow/internal/cli"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var CMD = &cobra.Command{
	Use:   "watch",
	Short: "Follow escrow events on one chain and export them as Prometheus metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configs.Values
		slog.Info("starting watch command. Validating config", slog.Any("config", cfg.Watch))

		if err := cfg.ValidateWatch(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := ethclient.DialContext(ctx, cfg.Chains[cfg.Watch.Chain].RPCURL)
		if err != nil {
			return fmt.Errorf("failed to dial %s: %w", cfg.Watch.Chain, err)
		}
		defer client.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		w := New(client, common.HexToAddress(cfg.Escrow.Address), Options{
			FromBlock:    uint64(cfg.Watch.FromBlock),
			BatchSize:    uint64(cfg.Watch.BatchSize),
			PollInterval: cfg.Watch.PollInterval,
		}, NewMetrics(reg))

		return run(ctx, w, cfg.Watch.MetricsAddr, reg)
	},
}

// run serves metrics and polls until ctx is cancelled or either side fails.
func run(ctx context.Context, w *Watcher, metricsAddr string, g prometheus.Gatherer) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return Serve(ctx, metricsAddr, g)
	})
	group.Go(func() error {
		return w.Run(ctx)
	})

	if err := group.Wait(); err != nil {
		return err
	}

	slog.Info("watcher stopped")

	return nil
}

func init() {
	cli.MustDeclare(CMD, false, []cli.FlagDef[string]{
		{Name: "chain", ViperKey: "watch.chain", DefaultValue: "rollup-a", Description: "Name of the configured chain to watch"},
		{Name: "metrics-addr", ViperKey: "watch.metrics-addr", DefaultValue: ":9464", Description: "Listen address of the metrics endpoint"},
	})
	cli.MustDeclare(CMD, false, []cli.FlagDef[int]{
		{Name: "from-block", ViperKey: "watch.from-block", DefaultValue: 0, Description: "First block to scan"},
		{Name: "batch-size", ViperKey: "watch.batch-size", DefaultValue: 1000, Description: "Blocks per eth_getLogs request"},
	})
}
