package rollout

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/compose-network/poolescrow/configs"
	"github.com/compose-network/poolescrow/internal/chain"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/compose-network/poolescrow/internal/deployer"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var (
	deployerAddr = common.HexToAddress("0x00000000000000000000000000000000000d3d10")
	owner        = common.HexToAddress("0x000000000000000000000000000000000000a0a0")
	salt         = crypto.Keccak256Hash([]byte("poolescrow-test"))
)

// fakeChain is a JSON-RPC backend over an in-process state with the deployer installed.
type fakeChain struct {
	id        *big.Int
	state     *chain.State
	deployer  *deployer.Deployer
	receipts  map[common.Hash]*types.Receipt
	sent      []*types.Transaction
	failDials int
	closed    int
}

func newFakeChain(t *testing.T, id int64, withDeployer bool) *fakeChain {
	t.Helper()

	f := &fakeChain{
		id:       big.NewInt(id),
		state:    chain.NewState(1_700_000_000),
		receipts: make(map[common.Hash]*types.Receipt),
	}
	if withDeployer {
		d, err := deployer.New(f.state, deployerAddr, []byte{0x60, 0x00, 0xf3})
		require.NoError(t, err)
		f.deployer = d
	}
	return f
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.deployer == nil || call.To == nil || *call.To != f.deployer.Address() {
		return nil, nil
	}
	return f.deployer.Call(chain.NewMsg(call.From, 0), call.Data)
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(f.id), tx)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, tx)

	status := types.ReceiptStatusSuccessful
	if _, err := f.deployer.Call(chain.NewMsg(from, 0), tx.Data()); err != nil {
		status = types.ReceiptStatusFailed
	}
	f.receipts[tx.Hash()] = &types.Receipt{Status: status, TxHash: tx.Hash()}
	f.state.Advance(2)

	return nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	return f.state.CodeAt(account), nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return f.id, nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.state.BlockNumber(), nil
}

func (f *fakeChain) Close() {
	f.closed++
}

func dialer(chains map[string]*fakeChain) Dialer {
	return func(_ context.Context, url string) (Backend, error) {
		f, ok := chains[url]
		if !ok {
			return nil, errors.New("connection refused")
		}
		if f.failDials > 0 {
			f.failDials--
			return nil, errors.New("connection refused")
		}
		return f, nil
	}
}

func testOptions(t *testing.T, chains ...Chain) Options {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return Options{
		Chains:   chains,
		Deployer: deployerAddr,
		Salt:     salt,
		Owner:    owner,
		Contract: contracts.CompiledContract{
			ABI:      contracts.EscrowABI,
			Bytecode: common.FromHex("0x6080604052348015600f57600080fd5b50"),
		},
		PrivateKey:      key,
		GasLimit:        3_000_000,
		WaitForReceipt:  true,
		RPCWaitAttempts: 3,
		RPCWaitInterval: time.Millisecond,
	}
}

func TestRun_SameAddressOnEveryChain(t *testing.T) {
	a := newFakeChain(t, 77777, true)
	b := newFakeChain(t, 88888, true)
	opts := testOptions(t,
		Chain{Name: "rollup-a", ID: 77777, RPCURL: "a"},
		Chain{Name: "rollup-b", ID: 88888, RPCURL: "b"},
	)

	results, err := NewService(opts, dialer(map[string]*fakeChain{"a": a, "b": b})).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	initCode, err := opts.InitCode()
	require.NoError(t, err)
	want := deployer.CreateAddress(deployerAddr, salt, crypto.Keccak256Hash(initCode))

	sender := crypto.PubkeyToAddress(opts.PrivateKey.PublicKey)
	for _, f := range []*fakeChain{a, b} {
		assert.Equal(t, initCode, f.state.CodeAt(want))
		require.Len(t, f.sent, 1)
		from, err := types.Sender(types.LatestSignerForChainID(f.id), f.sent[0])
		require.NoError(t, err)
		assert.Equal(t, sender, from)
		assert.Equal(t, deployerAddr, *f.sent[0].To())
		assert.Equal(t, 1, f.closed)
	}

	for _, r := range results {
		assert.Equal(t, want, r.Address)
		assert.True(t, r.Deployed)
		assert.NotEqual(t, common.Hash{}, r.TxHash)
	}
}

func TestRun_SkipsExistingDeployment(t *testing.T) {
	a := newFakeChain(t, 77777, true)
	opts := testOptions(t, Chain{Name: "rollup-a", ID: 77777, RPCURL: "a"})
	service := NewService(opts, dialer(map[string]*fakeChain{"a": a}))

	first, err := service.Run(context.Background())
	require.NoError(t, err)

	second, err := service.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first[0].Address, second[0].Address)
	assert.False(t, second[0].Deployed)
	assert.Len(t, a.sent, 1)
}

func TestRun_DeployerMissing(t *testing.T) {
	a := newFakeChain(t, 77777, false)
	opts := testOptions(t, Chain{Name: "rollup-a", ID: 77777, RPCURL: "a"})

	_, err := NewService(opts, dialer(map[string]*fakeChain{"a": a})).Run(context.Background())
	require.ErrorIs(t, err, ErrDeployerMissing)
}

func TestRun_ChainIDMismatch(t *testing.T) {
	a := newFakeChain(t, 1, true)
	opts := testOptions(t, Chain{Name: "rollup-a", ID: 77777, RPCURL: "a"})

	_, err := NewService(opts, dialer(map[string]*fakeChain{"a": a})).Run(context.Background())
	require.ErrorIs(t, err, ErrChainIDMismatch)
}

func TestRun_WaitsForRPC(t *testing.T) {
	a := newFakeChain(t, 77777, true)
	a.failDials = 2
	opts := testOptions(t, Chain{Name: "rollup-a", ID: 77777, RPCURL: "a"})

	_, err := NewService(opts, dialer(map[string]*fakeChain{"a": a})).Run(context.Background())
	require.NoError(t, err)

	b := newFakeChain(t, 77777, true)
	b.failDials = 3
	_, err = NewService(opts, dialer(map[string]*fakeChain{"a": b})).Run(context.Background())
	require.ErrorContains(t, err, "timed out waiting for RPC")
}

func TestRun_NoWaitSkipsConfirmation(t *testing.T) {
	a := newFakeChain(t, 77777, true)
	opts := testOptions(t, Chain{Name: "rollup-a", ID: 77777, RPCURL: "a"})
	opts.WaitForReceipt = false

	results, err := NewService(opts, dialer(map[string]*fakeChain{"a": a})).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, results[0].Deployed)
}

func TestAddressesMatchAcrossChains(t *testing.T) {
	x := common.HexToAddress("0x01")
	y := common.HexToAddress("0x02")

	assert.True(t, addressesMatchAcrossChains(nil))
	assert.True(t, addressesMatchAcrossChains([]Result{{Address: x}}))
	assert.True(t, addressesMatchAcrossChains([]Result{{Address: x}, {Address: x}}))
	assert.False(t, addressesMatchAcrossChains([]Result{{Address: x}, {Address: x}, {Address: y}}))
}

func TestManifest(t *testing.T) {
	opts := testOptions(t)
	escrowAddr := common.HexToAddress("0x00000000000000000000000000000000e5c70000")
	results := []Result{
		{Chain: Chain{Name: "rollup-a", ID: 77777, RPCURL: "http://localhost:18545"}, Address: escrowAddr, Deployed: true, TxHash: common.HexToHash("0xabc")},
		{Chain: Chain{Name: "rollup-b", ID: 88888, RPCURL: "http://localhost:28545"}, Address: escrowAddr},
	}

	manifest, err := BuildManifest(opts, results)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "rollout.yaml")
	require.NoError(t, WriteManifest(path, manifest))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "abi: '[")

	var decoded struct {
		Escrow struct {
			Address string `yaml:"address"`
			Salt    string `yaml:"salt"`
		} `yaml:"escrow"`
		Chains map[string]struct {
			ID       int    `yaml:"id"`
			Deployed bool   `yaml:"deployed"`
			TxHash   string `yaml:"tx-hash"`
		} `yaml:"chains"`
	}
	require.NoError(t, yaml.Unmarshal(data, &decoded))

	assert.Equal(t, escrowAddr, common.HexToAddress(decoded.Escrow.Address))
	assert.Equal(t, salt.Hex(), decoded.Escrow.Salt)
	assert.Equal(t, 77777, decoded.Chains["rollup-a"].ID)
	assert.True(t, decoded.Chains["rollup-a"].Deployed)
	assert.Equal(t, common.HexToHash("0xabc").Hex(), decoded.Chains["rollup-a"].TxHash)
	assert.Empty(t, decoded.Chains["rollup-b"].TxHash)

	_, err = BuildManifest(opts, nil)
	require.Error(t, err)
}

func writeArtifact(t *testing.T) string {
	t.Helper()

	rawABI, err := contracts.RawABI(contracts.ContractNamePoolEscrow)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "PoolEscrow.json")
	artifact := `{"abi": ` + rawABI + `, "bytecode": {"object": "0x6080604052348015600f57600080fd5b50"}}`
	require.NoError(t, os.WriteFile(path, []byte(artifact), 0644))

	return path
}

func TestOptionsFromConfig_MatchesPrediction(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := configs.Config{
		Chains: map[configs.ChainName]configs.ChainConfig{
			"rollup-b": {ID: 88888, RPCURL: "b"},
			"rollup-a": {ID: 77777, RPCURL: "a"},
		},
		Wallet:   configs.Wallet{PrivateKey: hexutil.Encode(crypto.FromECDSA(key))},
		Deployer: configs.Deployer{Address: deployerAddr.Hex(), Salt: "poolescrow-test"},
		Escrow:   configs.Escrow{Owner: owner.Hex(), Artifact: writeArtifact(t), ContractName: "PoolEscrow"},
		Rollout:  configs.Rollout{GasLimit: 3_000_000, RPCWaitAttempts: 3},
	}

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, opts.Chains, 2)
	assert.Equal(t, configs.ChainName("rollup-a"), opts.Chains[0].Name)
	assert.Equal(t, [32]byte(salt), opts.Salt)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(opts.PrivateKey.PublicKey))

	predicted, err := PredictAddress(cfg)
	require.NoError(t, err)

	opts.RPCWaitInterval = time.Millisecond
	a := newFakeChain(t, 77777, true)
	b := newFakeChain(t, 88888, true)
	results, err := NewService(opts, dialer(map[string]*fakeChain{"a": a, "b": b})).Run(context.Background())
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, predicted, r.Address)
	}

	cfg.Wallet.PrivateKey = "not-a-key"
	_, err = OptionsFromConfig(cfg)
	require.ErrorContains(t, err, "failed to parse private key")
}
