package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type          string `yaml:"type"`
	RPCURL        string `yaml:"rpc_url"`
	ChainID       int64  `yaml:"chain_id"`
	Confirmations uint64 `yaml:"confirmations"`
	Description   string `yaml:"description"`
}

// Validate reports definitions that cannot be dialled.
func (d ChainDefinitions) Validate() error {
	for name, chain := range d.Chains {
		if strings.TrimSpace(chain.RPCURL) == "" {
			return fmt.Errorf("链 %s 缺少 rpc_url", name)
		}
		if chain.ChainID < 0 {
			return fmt.Errorf("链 %s 的 chain_id 不能为负数", name)
		}
	}
	return nil
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	if err := defs.Validate(); err != nil {
		return ChainDefinitions{}, err
	}
	return defs, nil
}
