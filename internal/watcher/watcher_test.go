package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/compose-network/poolescrow/internal/chain"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/compose-network/poolescrow/internal/escrow"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const genesis = 1_700_000_000

var (
	escrowAddr  = common.HexToAddress("0x00000000000000000000000000000000e5c70000")
	owner       = common.HexToAddress("0x000000000000000000000000000000000000a0a0")
	beneficiary = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

// stateSource serves eth_getLogs from an in-process state.
type stateSource struct {
	state   *chain.State
	queries []ethereum.FilterQuery
	fail    error
}

func (s *stateSource) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	s.queries = append(s.queries, q)

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, log := range s.state.Logs() {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		for _, addr := range q.Addresses {
			if log.Address == addr {
				out = append(out, *log)
				break
			}
		}
	}
	return out, nil
}

func (s *stateSource) BlockNumber(context.Context) (uint64, error) {
	return s.state.BlockNumber(), nil
}

func wei(n uint64) *uint256.Int {
	return uint256.NewInt(n)
}

func runPoolLifecycle(t *testing.T, state *chain.State) {
	t.Helper()

	require.NoError(t, state.Mint(alice, wei(1_000)))
	e, err := escrow.New(state, escrowAddr, owner)
	require.NoError(t, err)
	state.Advance(1)

	id, err := e.CreatePool(chain.NewMsg(owner, 0), beneficiary, "wells", wei(500), uint256.NewInt(state.Now()+100))
	require.NoError(t, err)
	state.Advance(1)

	require.NoError(t, e.Contribute(chain.Msg{From: alice, Value: wei(200)}, id))
	state.Advance(1)
	require.NoError(t, e.Contribute(chain.Msg{From: alice, Value: wei(300)}, id))
	state.Advance(100)

	require.NoError(t, e.DisburseFunds(chain.NewMsg(owner, 0), id))
}

func TestPoll_CountsEvents(t *testing.T) {
	state := chain.NewState(genesis)
	runPoolLifecycle(t, state)

	// A foreign log at the escrow address is counted as undecodable.
	state.AddLog(&types.Log{Address: escrowAddr, Topics: []common.Hash{{0x01}}})
	state.AddLog(&types.Log{Address: alice, Topics: []common.Hash{{0x02}}})

	source := &stateSource{state: state}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var seen []string
	w := New(source, escrowAddr, Options{FromBlock: 1, BatchSize: 2, OnEvent: func(e contracts.Event) {
		seen = append(seen, e.EventName())
	}}, metrics)

	handled, err := w.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, handled)
	assert.Equal(t, []string{
		"OwnershipTransferred", "PoolCreated", "ContributionMade", "ContributionMade", "GoalAchieved", "FundsDisbursed",
	}, seen)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.events.WithLabelValues("ContributionMade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.events.WithLabelValues("FundsDisbursed")))
	assert.Equal(t, 500.0, testutil.ToFloat64(metrics.contributed))
	assert.Equal(t, 500.0, testutil.ToFloat64(metrics.disbursed))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decodeErrors))
	assert.Equal(t, float64(state.BlockNumber()), testutil.ToFloat64(metrics.lastBlock))
	assert.Equal(t, state.BlockNumber()+1, w.Next())

	for _, q := range source.queries {
		assert.LessOrEqual(t, q.ToBlock.Uint64()-q.FromBlock.Uint64(), uint64(1))
	}
}

func TestPoll_ResumesFromCursor(t *testing.T) {
	state := chain.NewState(genesis)
	require.NoError(t, state.Mint(alice, wei(1_000)))
	e, err := escrow.New(state, escrowAddr, owner)
	require.NoError(t, err)

	source := &stateSource{state: state}
	metrics := NewMetrics(prometheus.NewRegistry())
	w := New(source, escrowAddr, Options{FromBlock: 1}, metrics)

	handled, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	handled, err = w.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, handled)

	state.Advance(1)
	_, err = e.CreatePool(chain.NewMsg(owner, 0), beneficiary, "x", wei(10), uint256.NewInt(state.Now()+10))
	require.NoError(t, err)

	handled, err = w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.events.WithLabelValues("PoolCreated")))
}

func TestPoll_RefundMetrics(t *testing.T) {
	state := chain.NewState(genesis)
	require.NoError(t, state.Mint(alice, wei(1_000)))
	e, err := escrow.New(state, escrowAddr, owner)
	require.NoError(t, err)

	id, err := e.CreatePool(chain.NewMsg(owner, 0), beneficiary, "x", wei(500), uint256.NewInt(state.Now()+10))
	require.NoError(t, err)
	require.NoError(t, e.Contribute(chain.Msg{From: alice, Value: wei(120)}, id))
	state.Advance(10)
	require.NoError(t, e.ClaimRefund(chain.NewMsg(alice, 0), id))

	metrics := NewMetrics(prometheus.NewRegistry())
	w := New(&stateSource{state: state}, escrowAddr, Options{FromBlock: 1}, metrics)

	_, err = w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120.0, testutil.ToFloat64(metrics.refunded))
}

func TestPoll_SourceError(t *testing.T) {
	state := chain.NewState(genesis)
	source := &stateSource{state: state, fail: errors.New("boom")}
	w := New(source, escrowAddr, Options{FromBlock: 1}, NewMetrics(prometheus.NewRegistry()))

	_, err := w.Poll(context.Background())
	require.ErrorContains(t, err, "boom")
	assert.Equal(t, uint64(1), w.Next())
}

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	metrics.events.WithLabelValues("PoolCreated").Inc()

	count, err := testutil.GatherAndCount(reg, "poolescrow_events_total", "poolescrow_last_block")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRun_StopsOnCancel(t *testing.T) {
	state := chain.NewState(genesis)
	_, err := escrow.New(state, escrowAddr, owner)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	w := New(&stateSource{state: state}, escrowAddr, Options{FromBlock: 1, PollInterval: time.Millisecond}, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, w, "127.0.0.1:0", reg)
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.events.WithLabelValues("OwnershipTransferred")) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
