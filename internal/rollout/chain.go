package rollout

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/compose-network/poolescrow/internal/deployer"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func (s *Service) deployToChain(ctx context.Context, chain Chain, initCode []byte) (Result, error) {
	log := s.logger.With("chain_name", chain.Name).With("url", chain.RPCURL)

	log.Info("waiting for chain RPC")
	client, err := s.waitForRPC(ctx, chain.RPCURL)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chain.ID != 0 && chainID.Cmp(big.NewInt(int64(chain.ID))) != 0 {
		return Result{}, fmt.Errorf("%w: configured %d, node reports %s", ErrChainIDMismatch, chain.ID, chainID)
	}

	code, err := client.CodeAt(ctx, s.opts.Deployer, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read deployer code: %w", err)
	}
	if len(code) == 0 {
		return Result{}, fmt.Errorf("%w at %s", ErrDeployerMissing, s.opts.Deployer.Hex())
	}

	predicted := deployer.CreateAddress(s.opts.Deployer, s.opts.Salt, crypto.Keccak256Hash(initCode))
	onChain, err := s.computeAddress(ctx, client, initCode)
	if err != nil {
		return Result{}, err
	}
	if onChain != predicted {
		return Result{}, fmt.Errorf("%w: local %s, deployer %s", ErrPredictionDiffers, predicted.Hex(), onChain.Hex())
	}

	result := Result{Chain: chain, Address: predicted}
	log = log.With("address", predicted.Hex())

	existing, err := client.CodeAt(ctx, predicted, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read code at %s: %w", predicted.Hex(), err)
	}
	if len(existing) > 0 {
		log.Info("escrow already deployed, skipping")
		return result, nil
	}

	tx, err := s.sendDeploy(ctx, client, chainID, initCode)
	if err != nil {
		return Result{}, err
	}
	result.Deployed = true
	result.TxHash = tx.Hash()

	log.With("tx_hash", tx.Hash().Hex()).Info("escrow deployment transaction sent")

	if !s.opts.WaitForReceipt {
		return result, nil
	}

	if err := s.confirm(ctx, client, tx, predicted); err != nil {
		return Result{}, err
	}

	log.Info("escrow deployed")

	return result, nil
}

func (s *Service) waitForRPC(ctx context.Context, url string) (Backend, error) {
	for range s.opts.RPCWaitAttempts {
		client, err := s.dial(ctx, url)
		if err == nil {
			if _, err := client.BlockNumber(ctx); err == nil {
				return client, nil
			}
			client.Close()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.opts.RPCWaitInterval):
		}
	}

	return nil, fmt.Errorf("timed out waiting for RPC at %s", url)
}

// computeAddress asks the deployer itself where (initCode, salt) would land.
func (s *Service) computeAddress(ctx context.Context, client Backend, initCode []byte) (common.Address, error) {
	data, err := contracts.DeployerABI.Pack("computeAddress", initCode, s.opts.Salt)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack computeAddress: %w", err)
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &s.opts.Deployer, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to call computeAddress: %w", err)
	}

	var addr common.Address
	if err := contracts.DeployerABI.UnpackIntoInterface(&addr, "computeAddress", out); err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack computeAddress: %w", err)
	}

	return addr, nil
}

func (s *Service) sendDeploy(ctx context.Context, client Backend, chainID *big.Int, initCode []byte) (*types.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	auth, err := bind.NewKeyedTransactorWithChainID(s.opts.PrivateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	data, err := contracts.DeployerABI.Pack("deploy", initCode, s.opts.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to pack deploy: %w", err)
	}

	nonce, err := client.PendingNonceAt(ctx, auth.From)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      s.opts.GasLimit,
		To:       &s.opts.Deployer,
		Value:    new(big.Int),
		Data:     data,
	})

	signed, err := auth.Signer(auth.From, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign deploy transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send deploy transaction: %w", err)
	}

	return signed, nil
}

// confirm waits for tx to be mined and checks that the escrow code is where it was
// predicted.
func (s *Service) confirm(ctx context.Context, client Backend, tx *types.Transaction, predicted common.Address) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return fmt.Errorf("failed to wait for transaction: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("escrow deployment failed with status %d", receipt.Status)
	}

	code, err := client.CodeAt(ctx, predicted, nil)
	if err != nil {
		return fmt.Errorf("failed to read code at %s: %w", predicted.Hex(), err)
	}
	if len(code) == 0 {
		return fmt.Errorf("no code at %s after deployment", predicted.Hex())
	}

	return nil
}

// addressesMatchAcrossChains verifies that every chain reports the same escrow address.
func addressesMatchAcrossChains(results []Result) bool {
	for i := 1; i < len(results); i++ {
		if results[i].Address != results[0].Address {
			return false
		}
	}
	return true
}
