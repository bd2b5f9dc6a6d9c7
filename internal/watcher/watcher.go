// Package watcher follows the escrow's event log on a live chain and turns it into log
// lines and Prometheus metrics. It keeps no state beyond the next block to scan.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/compose-network/poolescrow/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type (
	LogSource interface {
		FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
		BlockNumber(ctx context.Context) (uint64, error)
	}

	Options struct {
		FromBlock    uint64
		BatchSize    uint64
		PollInterval time.Duration
		// OnEvent, when set, receives every decoded event in log order.
		OnEvent func(contracts.Event)
	}

	Watcher struct {
		source  LogSource
		address common.Address
		opts    Options
		next    uint64
		metrics *Metrics
		logger  *slog.Logger
	}
)

func New(source LogSource, address common.Address, opts Options, metrics *Metrics) *Watcher {
	if opts.BatchSize == 0 {
		opts.BatchSize = 1000
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}

	return &Watcher{
		source:  source,
		address: address,
		opts:    opts,
		next:    opts.FromBlock,
		metrics: metrics,
		logger:  logger.Named("watcher").With("escrow", address.Hex()),
	}
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.logger.With("from_block", w.next).Info("watching escrow events")

	for {
		if _, err := w.Poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			w.logger.With("err", err.Error()).Warn("poll failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll scans every block from the cursor to the current head in bounded ranges and
// returns how many escrow events it handled.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	head, err := w.source.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}

	handled := 0
	for w.next <= head {
		to := min(w.next+w.opts.BatchSize-1, head)

		logs, err := w.source.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(w.next),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{w.address},
		})
		if err != nil {
			return handled, fmt.Errorf("failed to filter logs %d-%d: %w", w.next, to, err)
		}

		for _, log := range logs {
			if log.Removed {
				continue
			}
			if w.handle(log) {
				handled++
			}
		}

		w.metrics.lastBlock.Set(float64(to))
		w.next = to + 1
	}

	return handled, nil
}

func (w *Watcher) handle(log types.Log) bool {
	event, err := contracts.DecodeEscrowLog(log)
	if err != nil {
		w.metrics.decodeErrors.Inc()
		w.logger.With("block", log.BlockNumber).With("tx_hash", log.TxHash.Hex()).With("err", err.Error()).Debug("skipping undecodable log")
		return false
	}

	w.metrics.events.WithLabelValues(event.EventName()).Inc()

	entry := w.logger.With("event", event.EventName()).With("block", log.BlockNumber)
	switch e := event.(type) {
	case *contracts.PoolCreated:
		entry = entry.With("pool_id", e.PoolId.String()).With("beneficiary", e.Beneficiary.Hex()).With("goal", e.GoalAmount.String())
	case *contracts.ContributionMade:
		w.metrics.contributed.Add(weiFloat(e.Amount))
		entry = entry.With("pool_id", e.PoolId.String()).With("contributor", e.Contributor.Hex()).With("amount", e.Amount.String())
	case *contracts.GoalAchieved:
		entry = entry.With("pool_id", e.PoolId.String()).With("total", e.TotalAmount.String())
	case *contracts.FundsDisbursed:
		w.metrics.disbursed.Add(weiFloat(e.Amount))
		entry = entry.With("pool_id", e.PoolId.String()).With("amount", e.Amount.String())
	case *contracts.RefundClaimed:
		w.metrics.refunded.Add(weiFloat(e.Amount))
		entry = entry.With("pool_id", e.PoolId.String()).With("contributor", e.Contributor.Hex()).With("amount", e.Amount.String())
	case *contracts.OwnershipTransferred:
		entry = entry.With("previous_owner", e.PreviousOwner.Hex()).With("new_owner", e.NewOwner.Hex())
	}
	entry.Info("escrow event")

	if w.opts.OnEvent != nil {
		w.opts.OnEvent(event)
	}

	return true
}

// Next returns the next block the watcher will scan.
func (w *Watcher) Next() uint64 {
	return w.next
}
