// Package rollout deploys the pool escrow through the deterministic deployer on every
// configured chain and checks that it landed at the same address everywhere.
package rollout

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/compose-network/poolescrow/configs"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/compose-network/poolescrow/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrDeployerMissing   = errors.New("deterministic deployer has no code")
	ErrAddressMismatch   = errors.New("escrow addresses differ between chains")
	ErrPredictionDiffers = errors.New("on-chain address prediction differs from local computation")
	ErrChainIDMismatch   = errors.New("chain id reported by the node differs from configuration")
)

type (
	// Backend is the slice of the JSON-RPC client a rollout needs.
	Backend interface {
		ethereum.ContractCaller
		ethereum.TransactionSender
		ethereum.GasPricer
		CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
		PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
		TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
		ChainID(ctx context.Context) (*big.Int, error)
		BlockNumber(ctx context.Context) (uint64, error)
		Close()
	}

	Dialer func(ctx context.Context, rpcURL string) (Backend, error)

	Chain struct {
		Name   configs.ChainName
		ID     int
		RPCURL string
	}

	Options struct {
		Chains          []Chain
		Deployer        common.Address
		Salt            [32]byte
		Owner           common.Address
		Contract        contracts.CompiledContract
		PrivateKey      *ecdsa.PrivateKey
		GasLimit        uint64
		WaitForReceipt  bool
		RPCWaitAttempts int
		RPCWaitInterval time.Duration
	}

	// Result is the outcome of the rollout on one chain.
	Result struct {
		Chain    Chain
		Address  common.Address
		Deployed bool
		TxHash   common.Hash
	}

	Service struct {
		opts   Options
		dial   Dialer
		logger *slog.Logger
	}
)

// DialEthClient is the Dialer used outside tests.
func DialEthClient(ctx context.Context, rpcURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func NewService(opts Options, dial Dialer) *Service {
	if opts.RPCWaitInterval == 0 {
		opts.RPCWaitInterval = time.Second
	}
	return &Service{
		opts:   opts,
		dial:   dial,
		logger: logger.Named("rollout"),
	}
}

// OptionsFromConfig resolves the rollout inputs from cfg, loading the escrow artifact.
func OptionsFromConfig(cfg configs.Config) (Options, error) {
	contract, err := contracts.LoadArtifact(cfg.Escrow.Artifact, contracts.ContractName(cfg.Escrow.ContractName))
	if err != nil {
		return Options{}, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Wallet.PrivateKey, "0x"))
	if err != nil {
		return Options{}, fmt.Errorf("failed to parse private key: %w", err)
	}

	chains := make([]Chain, 0, len(cfg.Chains))
	for name, chain := range cfg.Chains {
		chains = append(chains, Chain{Name: name, ID: chain.ID, RPCURL: chain.RPCURL})
	}
	slices.SortFunc(chains, func(a, b Chain) int { return strings.Compare(string(a.Name), string(b.Name)) })

	return Options{
		Chains:          chains,
		Deployer:        common.HexToAddress(cfg.Deployer.Address),
		Salt:            cfg.Deployer.SaltBytes(),
		Owner:           common.HexToAddress(cfg.Escrow.Owner),
		Contract:        contract,
		PrivateKey:      privateKey,
		GasLimit:        uint64(cfg.Rollout.GasLimit),
		WaitForReceipt:  cfg.Rollout.WaitForReceipt,
		RPCWaitAttempts: cfg.Rollout.RPCWaitAttempts,
	}, nil
}

// InitCode is the creation code the deployer receives: bytecode followed by the encoded
// constructor argument.
func (o Options) InitCode() ([]byte, error) {
	return o.Contract.DeploymentCode(o.Owner)
}

// Run deploys on every chain in order and returns one result per chain. It fails if the
// chains disagree on the escrow address.
func (s *Service) Run(ctx context.Context) ([]Result, error) {
	initCode, err := s.opts.InitCode()
	if err != nil {
		return nil, err
	}

	s.logger.
		With("chains", len(s.opts.Chains)).
		With("deployer", s.opts.Deployer.Hex()).
		With("salt", common.Hash(s.opts.Salt).Hex()).
		Info("starting escrow rollout")

	results := make([]Result, 0, len(s.opts.Chains))
	for _, chain := range s.opts.Chains {
		result, err := s.deployToChain(ctx, chain, initCode)
		if err != nil {
			s.logger.With("chain_name", chain.Name).With("err", err.Error()).Error("rollout failed")
			return nil, fmt.Errorf("failed to roll out to %s: %w", chain.Name, err)
		}
		results = append(results, result)
	}

	if !addressesMatchAcrossChains(results) {
		return nil, ErrAddressMismatch
	}

	s.logger.With("chains", len(results)).Info("escrow rollout completed")

	return results, nil
}
