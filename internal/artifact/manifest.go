// Package artifact loads compiled contract artifacts listed in a YAML
// manifest.
package artifact

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Manifest models contracts.yaml.
type Manifest struct {
	Contracts map[string]Entry `yaml:"contracts"`
}

// Entry describes one contract in the manifest. Paths are relative to the
// manifest file.
type Entry struct {
	ABI               string `yaml:"abi"`
	Bin               string `yaml:"bin"`
	AlternateEncoding bool   `yaml:"alternate_encoding"`
	Address           string `yaml:"address"`
}

// Artifact is a loaded, parsed contract.
type Artifact struct {
	Name              string
	ABI               abi.ABI
	Bytecode          string
	AlternateEncoding bool
	Address           *common.Address
}

// Load reads the manifest at path and every artifact it lists. A missing
// manifest yields no artifacts.
func Load(path string) ([]Artifact, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取合约清单失败: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(content, &manifest); err != nil {
		return nil, fmt.Errorf("解析合约清单失败: %w", err)
	}

	baseDir := filepath.Dir(path)
	out := make([]Artifact, 0, len(manifest.Contracts))
	for name, entry := range manifest.Contracts {
		art, err := loadEntry(baseDir, name, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, art)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func loadEntry(baseDir, name string, entry Entry) (Artifact, error) {
	if strings.TrimSpace(entry.ABI) == "" {
		return Artifact{}, fmt.Errorf("合约 %s 缺少 abi 路径", name)
	}
	abiFile, err := os.Open(resolve(baseDir, entry.ABI))
	if err != nil {
		return Artifact{}, fmt.Errorf("打开合约 %s 的 ABI 失败: %w", name, err)
	}
	defer abiFile.Close()

	parsed, err := abi.JSON(abiFile)
	if err != nil {
		return Artifact{}, fmt.Errorf("解析合约 %s 的 ABI 失败: %w", name, err)
	}

	art := Artifact{Name: name, ABI: parsed, AlternateEncoding: entry.AlternateEncoding}
	if entry.Bin != "" {
		code, err := os.ReadFile(resolve(baseDir, entry.Bin))
		if err != nil {
			return Artifact{}, fmt.Errorf("读取合约 %s 的字节码失败: %w", name, err)
		}
		art.Bytecode = strings.TrimSpace(string(code))
		if _, err := hex.DecodeString(strings.TrimPrefix(art.Bytecode, "0x")); err != nil {
			return Artifact{}, fmt.Errorf("合约 %s 的字节码不是合法十六进制: %w", name, err)
		}
	}
	if addr := strings.TrimSpace(entry.Address); addr != "" {
		if !common.IsHexAddress(addr) {
			return Artifact{}, fmt.Errorf("合约 %s 的地址无效: %s", name, addr)
		}
		a := common.HexToAddress(addr)
		art.Address = &a
	}
	return art, nil
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
