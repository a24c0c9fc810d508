package contract

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

var errNoAddress = errors.New("合约地址未设置")

// Method describes one declared function of the bound ABI.
type Method struct {
	Name      string
	Signature string
	Selector  string
	Inputs    abi.Arguments
	Outputs   abi.Arguments
	Constant  bool
	Payable   bool
}

// Instance is an ABI bound to an optional on-chain address. It is immutable:
// pointing it somewhere else produces a new Instance via At.
type Instance struct {
	abi      abi.ABI
	methods  map[string]Method
	backend  bind.ContractBackend
	address  common.Address
	hasAddr  bool
	contract *bind.BoundContract
}

func newInstance(parsed abi.ABI, backend bind.ContractBackend) *Instance {
	methods := make(map[string]Method, len(parsed.Methods))
	for name, m := range parsed.Methods {
		methods[name] = Method{
			Name:      name,
			Signature: m.Sig,
			Selector:  hexutil.Encode(m.ID),
			Inputs:    m.Inputs,
			Outputs:   m.Outputs,
			Constant:  m.IsConstant(),
			Payable:   m.IsPayable(),
		}
	}
	return &Instance{abi: parsed, methods: methods, backend: backend}
}

// At returns a copy of the instance bound to addr.
func (i *Instance) At(addr common.Address) *Instance {
	next := &Instance{
		abi:     i.abi,
		methods: i.methods,
		backend: i.backend,
		address: addr,
		hasAddr: true,
	}
	if i.backend != nil {
		next.contract = bind.NewBoundContract(addr, i.abi, i.backend, i.backend, i.backend)
	}
	return next
}

// Address returns the bound address and whether one has been set.
func (i *Instance) Address() (common.Address, bool) {
	if i == nil {
		return common.Address{}, false
	}
	return i.address, i.hasAddr
}

// ABI returns the parsed ABI this instance was built from.
func (i *Instance) ABI() abi.ABI {
	return i.abi
}

// Method looks up a declared function by name. Overloaded functions follow
// go-ethereum's naming (name, name0, name1, ...).
func (i *Instance) Method(name string) (Method, bool) {
	if i == nil {
		return Method{}, false
	}
	m, ok := i.methods[name]
	return m, ok
}

// Methods returns the method table sorted by name.
func (i *Instance) Methods() []Method {
	out := make([]Method, 0, len(i.methods))
	for _, m := range i.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Constructor describes the constructor inputs (empty when none declared).
func (i *Instance) Constructor() Method {
	return Method{Inputs: i.abi.Constructor.Inputs, Payable: i.abi.Constructor.IsPayable()}
}

// Pack produces calldata for a declared function.
func (i *Instance) Pack(name string, args ...any) ([]byte, error) {
	if _, ok := i.methods[name]; !ok {
		return nil, fmt.Errorf("ABI 中未声明函数 %q", name)
	}
	return i.abi.Pack(name, args...)
}

func (i *Instance) call(ctx context.Context, from common.Address, name string, args ...any) ([]any, error) {
	if !i.hasAddr || i.contract == nil {
		return nil, errNoAddress
	}
	var out []any
	opts := &bind.CallOpts{Context: ctx, From: from}
	if err := i.contract.Call(opts, &out, name, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (i *Instance) transact(opts *bind.TransactOpts, name string, args ...any) (*types.Transaction, error) {
	if !i.hasAddr || i.contract == nil {
		return nil, errNoAddress
	}
	return i.contract.Transact(opts, name, args...)
}
