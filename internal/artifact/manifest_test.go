package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"ContractHub/internal/contract/contracttest"

	"github.com/ethereum/go-ethereum/common"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "build/Owned.abi", contracttest.ABI)
	writeFile(t, dir, "build/Owned.bin", "  "+contracttest.Bytecode+"\n")
	writeFile(t, dir, "contracts.yaml", `
contracts:
  owned:
    abi: build/Owned.abi
    bin: build/Owned.bin
    alternate_encoding: true
  attached:
    abi: build/Owned.abi
    address: "0x00000000000000000000000000000000000000aa"
`)

	arts, err := Load(filepath.Join(dir, "contracts.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(arts) != 2 || arts[0].Name != "attached" || arts[1].Name != "owned" {
		t.Fatalf("unexpected artifacts %+v", arts)
	}

	attached := arts[0]
	if attached.Address == nil || *attached.Address != common.HexToAddress("0xaa") {
		t.Fatalf("unexpected address %v", attached.Address)
	}
	if attached.Bytecode != "" {
		t.Fatal("address-only entries carry no bytecode")
	}

	owned := arts[1]
	if owned.Bytecode != contracttest.Bytecode {
		t.Fatal("bytecode must be trimmed but otherwise unchanged")
	}
	if !owned.AlternateEncoding {
		t.Fatal("expected alternate encoding flag")
	}
	if _, ok := owned.ABI.Methods["setValue"]; !ok {
		t.Fatal("expected parsed ABI")
	}
}

func TestLoadMissingManifest(t *testing.T) {
	arts, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || len(arts) != 0 {
		t.Fatalf("missing manifest must be empty, got %v, %v", arts, err)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	cases := map[string]string{
		"no abi":      "contracts:\n  a:\n    bin: a.bin\n",
		"missing abi": "contracts:\n  a:\n    abi: nope.abi\n",
		"bad address": "contracts:\n  a:\n    abi: ok.abi\n    address: xyz\n",
		"bad yaml":    "contracts: [",
		"bad bin":     "contracts:\n  a:\n    abi: ok.abi\n    bin: bad.bin\n",
		"odd bin":     "contracts:\n  a:\n    abi: ok.abi\n    bin: odd.bin\n",
	}
	for name, manifest := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "ok.abi", contracttest.ABI)
			writeFile(t, dir, "bad.bin", "6080604052zz")
			writeFile(t, dir, "odd.bin", "0x608060405")
			writeFile(t, dir, "contracts.yaml", manifest)
			if _, err := Load(filepath.Join(dir, "contracts.yaml")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
