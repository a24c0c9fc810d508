package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"ContractHub/internal/config"
	"ContractHub/internal/web3"
	"ContractHub/internal/web3/ethereum"
)

type stubClient struct {
	name   string
	closed bool
}

func (s *stubClient) Name() string          { return s.name }
func (s *stubClient) Backend() web3.Backend { return nil }
func (s *stubClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Name: s.name}, nil
}
func (s *stubClient) Close() { s.closed = true }

type recordingDialer struct {
	dialed  []ethereum.Config
	clients map[string]*stubClient
	failOn  string
}

func (d *recordingDialer) dial(_ context.Context, cfg ethereum.Config) (web3.Client, error) {
	if cfg.Name == d.failOn {
		return nil, errors.New("dial refused")
	}
	d.dialed = append(d.dialed, cfg)
	if d.clients == nil {
		d.clients = make(map[string]*stubClient)
	}
	c := &stubClient{name: cfg.Name}
	d.clients[cfg.Name] = c
	return c, nil
}

func writeChains(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入链配置失败: %v", err)
	}
	return path
}

const chainsYAML = `
chains:
  mainnet:
    rpc_url: https://rpc.example.org
    chain_id: 1
    confirmations: 12
    description: primary
  sepolia:
    type: EVM
    rpc_url: https://sepolia.example.org
    chain_id: 11155111
    confirmations: 2
`

func TestRegistryFromChainDefinitions(t *testing.T) {
	dialer := &recordingDialer{}
	reg, err := NewRegistryWithDialer(context.Background(), config.Web3Config{
		ChainConfig:  writeChains(t, chainsYAML),
		DefaultChain: "sepolia",
	}, dialer.dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if got := reg.Chains(); !reflect.DeepEqual(got, []string{"mainnet", "sepolia"}) {
		t.Fatalf("unexpected chains %v", got)
	}
	if reg.DefaultChain() != "sepolia" {
		t.Fatalf("unexpected default %s", reg.DefaultChain())
	}
	client, err := reg.DefaultClient()
	if err != nil || client.Name() != "sepolia" {
		t.Fatalf("unexpected default client %v, %v", client, err)
	}
	if reg.Confirmations("mainnet") != 12 || reg.Confirmations("sepolia") != 2 {
		t.Fatal("confirmation depth must follow chain definitions")
	}

	reg.Close()
	for name, c := range dialer.clients {
		if !c.closed {
			t.Fatalf("client %s not closed", name)
		}
	}
}

func TestRegistryFallsBackToRPCURL(t *testing.T) {
	dialer := &recordingDialer{}
	reg, err := NewRegistryWithDialer(context.Background(), config.Web3Config{
		RPCURL:        "http://127.0.0.1:8545",
		ChainID:       1337,
		Confirmations: 3,
	}, dialer.dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if reg.DefaultChain() != "default" || reg.Confirmations("default") != 3 {
		t.Fatalf("unexpected fallback registry %v", reg.Chains())
	}
	if len(dialer.dialed) != 1 || dialer.dialed[0].ChainID != 1337 {
		t.Fatalf("unexpected dial %+v", dialer.dialed)
	}
}

func TestRegistryErrors(t *testing.T) {
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{}, (&recordingDialer{}).dial); err == nil {
		t.Fatal("expected error without endpoints")
	}

	path := writeChains(t, chainsYAML)
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{ChainConfig: path, DefaultChain: "goerli"}, (&recordingDialer{}).dial); err == nil {
		t.Fatal("expected error for unknown default chain")
	}

	failing := &recordingDialer{failOn: "sepolia"}
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{ChainConfig: path}, failing.dial); err == nil {
		t.Fatal("expected dial error")
	}
	for name, c := range failing.clients {
		if !c.closed {
			t.Fatalf("client %s leaked after failure", name)
		}
	}

	bad := writeChains(t, "chains:\n  solana:\n    type: svm\n    rpc_url: https://x\n")
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{ChainConfig: bad}, (&recordingDialer{}).dial); err == nil {
		t.Fatal("expected unsupported chain type")
	}
}
