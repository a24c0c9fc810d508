package ethereum

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSimulatedClientSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	alloc := types.GenesisAlloc{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: big.NewInt(1_000_000_000_000_000_000)},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	client := NewSimulatedClient("simulated", chainID, backend)
	t.Cleanup(client.Close)

	before, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if before.ChainID != "0x"+chainID.Text(16) {
		t.Fatalf("unexpected chain id %s", before.ChainID)
	}
	if before.Name != "simulated" || before.Notes == "" {
		t.Fatalf("unexpected snapshot %+v", before)
	}

	backend.Commit()
	backend.Commit()
	after, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if after.BlockNumber == before.BlockNumber {
		t.Fatalf("expected block number to advance, still %s", after.BlockNumber)
	}

	if client.Backend() == nil {
		t.Fatal("expected backend before close")
	}
	client.Close()
	if client.Backend() != nil {
		t.Fatal("backend must be released after close")
	}
	if _, err := client.FetchChainSnapshot(ctx); err == nil {
		t.Fatal("expected error after close")
	}
}

// chainIDServer answers eth_chainId over JSON-RPC with a fixed value.
func chainIDServer(t *testing.T, chainID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Method != "eth_chainId" {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":"` + chainID + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientChecksChainID(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := chainIDServer(t, "0x539")

	client, err := NewClient(ctx, Config{Name: "dev", RPCURL: srv.URL, ChainID: 1337})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	if client.ChainID().Int64() != 1337 {
		t.Fatalf("unexpected chain id %s", client.ChainID())
	}
	if client.Name() != "dev" {
		t.Fatalf("unexpected name %s", client.Name())
	}

	if _, err := NewClient(ctx, Config{Name: "dev", RPCURL: srv.URL, ChainID: 1}); err == nil || !strings.Contains(err.Error(), "chain_id") {
		t.Fatalf("expected chain id mismatch, got %v", err)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{Name: "empty"}); err == nil {
		t.Fatal("expected error for empty rpc url")
	}
}
