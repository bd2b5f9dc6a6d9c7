package rollout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/compose-network/poolescrow/configs"
	"github.com/compose-network/poolescrow/internal/contracts"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

type (
	Manifest struct {
		Escrow EscrowManifest                      `yaml:"escrow"`
		Chains map[configs.ChainName]ChainManifest `yaml:"chains"`
	}

	EscrowManifest struct {
		Address  common.Address     `yaml:"address"`
		Deployer common.Address     `yaml:"deployer"`
		Salt     string             `yaml:"salt"`
		Owner    common.Address     `yaml:"owner"`
		ABI      SingleQuotedString `yaml:"abi"`
	}

	ChainManifest struct {
		ID       int    `yaml:"id"`
		RPCURL   string `yaml:"rpc-url"`
		Deployed bool   `yaml:"deployed"`
		TxHash   string `yaml:"tx-hash,omitempty"`
	}

	SingleQuotedString string
)

func (s SingleQuotedString) MarshalYAML() (any, error) {
	node := &yaml.Node{
		Kind:  yaml.ScalarNode,
		Style: yaml.SingleQuotedStyle,
		Value: string(s),
	}
	return node, nil
}

// BuildManifest summarises a finished rollout. results must be non-empty and agree on the
// escrow address.
func BuildManifest(opts Options, results []Result) (Manifest, error) {
	if len(results) == 0 {
		return Manifest{}, fmt.Errorf("no rollout results")
	}

	rawABI, err := contracts.RawABI(contracts.ContractNamePoolEscrow)
	if err != nil {
		return Manifest{}, err
	}

	manifest := Manifest{
		Escrow: EscrowManifest{
			Address:  results[0].Address,
			Deployer: opts.Deployer,
			Salt:     common.Hash(opts.Salt).Hex(),
			Owner:    opts.Owner,
			ABI:      SingleQuotedString(rawABI),
		},
		Chains: make(map[configs.ChainName]ChainManifest, len(results)),
	}

	for _, r := range results {
		chain := ChainManifest{
			ID:       r.Chain.ID,
			RPCURL:   r.Chain.RPCURL,
			Deployed: r.Deployed,
		}
		if r.Deployed {
			chain.TxHash = r.TxHash.Hex()
		}
		manifest.Chains[r.Chain.Name] = chain
	}

	return manifest, nil
}

func WriteManifest(path string, manifest Manifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("could not marshal rollout manifest: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write rollout manifest: %w", err)
	}

	return nil
}
