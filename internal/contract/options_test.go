package contract

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

type stubSigner struct {
	err error
}

func (s stubSigner) TransactOpts(_ context.Context, from common.Address) (*bind.TransactOpts, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &bind.TransactOpts{From: from}, nil
}

func TestApplyTxOptionsValueRule(t *testing.T) {
	cases := []struct {
		name  string
		value *big.Int
		want  *big.Int
	}{
		{name: "absent", value: nil, want: nil},
		{name: "zero", value: big.NewInt(0), want: nil},
		{name: "positive", value: big.NewInt(25), want: big.NewInt(25)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := &bind.TransactOpts{}
			applyTxOptions(auth, tc.value, TxOptions{})
			if tc.want == nil {
				if auth.Value != nil {
					t.Fatalf("value must be omitted, got %s", auth.Value)
				}
				return
			}
			if auth.Value == nil || auth.Value.Cmp(tc.want) != 0 {
				t.Fatalf("expected value %s, got %v", tc.want, auth.Value)
			}
		})
	}
}

func TestApplyTxOptionsCopiesVerbatim(t *testing.T) {
	opts := TxOptions{
		GasLimit:  3_000_000,
		GasPrice:  big.NewInt(7),
		GasFeeCap: big.NewInt(9),
		GasTipCap: big.NewInt(2),
		Nonce:     big.NewInt(11),
	}
	auth := &bind.TransactOpts{}
	applyTxOptions(auth, nil, opts)

	if auth.GasLimit != opts.GasLimit {
		t.Fatalf("gas limit %d", auth.GasLimit)
	}
	if auth.GasPrice != opts.GasPrice || auth.GasFeeCap != opts.GasFeeCap || auth.GasTipCap != opts.GasTipCap || auth.Nonce != opts.Nonce {
		t.Fatal("options must be carried over unchanged")
	}
}

func TestTransactOptsErrors(t *testing.T) {
	signerErr := errors.New("locked")
	h := New(nil, stubSigner{err: signerErr}, abi.ABI{}, "", false)

	_, err := h.transactOpts(context.Background(), common.Address{}, nil, TxOptions{})
	if !errors.Is(err, ErrSubmission) {
		t.Fatalf("zero sender: expected submission error, got %v", err)
	}

	_, err = h.transactOpts(context.Background(), common.HexToAddress("0x01"), nil, TxOptions{})
	if !errors.Is(err, ErrSubmission) || !errors.Is(err, signerErr) {
		t.Fatalf("signer failure: expected wrapped submission error, got %v", err)
	}

	ok := New(nil, stubSigner{}, abi.ABI{}, "", false)
	auth, err := ok.transactOpts(context.Background(), common.HexToAddress("0x01"), big.NewInt(3), TxOptions{GasLimit: 21000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth.Value.Int64() != 3 || auth.GasLimit != 21000 || auth.Context == nil {
		t.Fatalf("unexpected opts %+v", auth)
	}
}
