package contract

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Coerce converts loosely typed arguments (as decoded from JSON or a command
// line) into the Go types the ABI packer expects for m's inputs. Values that
// already have the exact type pass through untouched.
func (m Method) Coerce(raw []any) ([]any, error) {
	return coerceArguments(m.Inputs, raw)
}

func coerceArguments(inputs abi.Arguments, raw []any) ([]any, error) {
	if len(raw) != len(inputs) {
		return nil, fmt.Errorf("参数数量不匹配: 需要 %d 个，实际 %d 个", len(inputs), len(raw))
	}
	out := make([]any, len(raw))
	for i, input := range inputs {
		v, err := coerceValue(input.Type, raw[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("参数 %s (%s): %w", name, input.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

func coerceValue(t abi.Type, v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("缺少取值")
	}
	goType := t.GetType()
	if reflect.TypeOf(v) == goType {
		return v, nil
	}

	switch t.T {
	case abi.AddressTy:
		s, ok := v.(string)
		if !ok || !common.IsHexAddress(s) {
			return nil, fmt.Errorf("无效地址 %v", v)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("无效布尔值 %q", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("无效布尔值 %v", v)
	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("需要字符串，实际 %T", v)
		}
		return s, nil
	case abi.IntTy, abi.UintTy:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		return fitInteger(t, goType, n)
	case abi.BytesTy:
		return toBytes(v)
	case abi.FixedBytesTy, abi.HashTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		size := t.Size
		if t.T == abi.HashTy {
			size = common.HashLength
		}
		if len(b) != size {
			return nil, fmt.Errorf("需要 %d 字节，实际 %d 字节", size, len(b))
		}
		arr := reflect.New(goType).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	case abi.SliceTy:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("需要数组，实际 %T", v)
		}
		out := reflect.MakeSlice(goType, len(items), len(items))
		if err := fillElements(out, *t.Elem, items); err != nil {
			return nil, err
		}
		return out.Interface(), nil
	case abi.ArrayTy:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("需要数组，实际 %T", v)
		}
		if len(items) != t.Size {
			return nil, fmt.Errorf("需要 %d 个元素，实际 %d 个", t.Size, len(items))
		}
		out := reflect.New(goType).Elem()
		if err := fillElements(out, *t.Elem, items); err != nil {
			return nil, err
		}
		return out.Interface(), nil
	}
	return nil, fmt.Errorf("不支持从 %T 转换为 %s", v, t.String())
}

func fillElements(dst reflect.Value, elem abi.Type, items []any) error {
	for i, item := range items {
		v, err := coerceValue(elem, item)
		if err != nil {
			return fmt.Errorf("元素 %d: %w", i, err)
		}
		dst.Index(i).Set(reflect.ValueOf(v))
	}
	return nil
}

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return new(big.Int).Set(n), nil
	case big.Int:
		return new(big.Int).Set(&n), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return nil, fmt.Errorf("数值 %v 不是可精确表示的整数，请使用字符串", n)
		}
		return big.NewInt(int64(n)), nil
	case json.Number:
		return parseBigInt(string(n))
	case string:
		return parseBigInt(n)
	}
	return nil, fmt.Errorf("需要整数，实际 %T", v)
}

func parseBigInt(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	n, ok := new(big.Int).SetString(trimmed, 0)
	if !ok {
		return nil, fmt.Errorf("无效整数 %q", s)
	}
	return n, nil
}

func fitInteger(t abi.Type, goType reflect.Type, n *big.Int) (any, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return nil, fmt.Errorf("无符号整数不能为负: %s", n)
		}
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s 超出 uint%d 范围", n, t.Size)
		}
	} else {
		lo := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1)))
		hi := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1)), big.NewInt(1))
		if n.Cmp(lo) < 0 || n.Cmp(hi) > 0 {
			return nil, fmt.Errorf("%s 超出 int%d 范围", n, t.Size)
		}
	}

	switch goType.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out := reflect.New(goType).Elem()
		out.SetInt(n.Int64())
		return out.Interface(), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out := reflect.New(goType).Elem()
		out.SetUint(n.Uint64())
		return out.Interface(), nil
	}
	return n, nil
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		decoded, err := hexutil.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("无效十六进制字节 %q: %w", b, err)
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("需要十六进制字符串，实际 %T", v)
}
