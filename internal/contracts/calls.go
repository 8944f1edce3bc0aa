package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/config"
)

var boolOutput = abi.Arguments{{Type: mustNewType("bool")}}

func mustNewType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// ParseSignature splits a signature like "transfer(address,uint256)" into
// its function name and parameter type list.
func ParseSignature(signature string) (name string, paramTypes []string, err error) {
	signature = strings.TrimSpace(signature)
	open := strings.Index(signature, "(")
	if open < 0 {
		return "", nil, errors.Errorf("invalid function signature %q: missing '('", signature)
	}
	end := strings.LastIndex(signature, ")")
	if end < open {
		return "", nil, errors.Errorf("invalid function signature %q: missing ')'", signature)
	}
	name = strings.TrimSpace(signature[:open])
	if name == "" {
		return "", nil, errors.Errorf("invalid function signature %q: missing function name", signature)
	}
	params := strings.TrimSpace(signature[open+1 : end])
	if params == "" {
		return name, nil, nil
	}
	for _, p := range strings.Split(params, ",") {
		paramTypes = append(paramTypes, strings.TrimSpace(p))
	}
	return name, paramTypes, nil
}

// PackCall encodes a call to the given signature with the given typed
// parameters. Parameter declarations must line up with the signature's
// types so misordered task configs fail before anything is sent.
func PackCall(signature string, params []config.Parameter) ([]byte, error) {
	name, paramTypes, err := ParseSignature(signature)
	if err != nil {
		return nil, err
	}
	if len(params) != len(paramTypes) {
		return nil, errors.Errorf("%s: %d parameters provided, signature expects %d", name, len(params), len(paramTypes))
	}

	inputs := make(abi.Arguments, len(paramTypes))
	values := make([]interface{}, len(paramTypes))
	for i, t := range paramTypes {
		if params[i].Type != t {
			return nil, errors.Errorf("%s: parameter %d declared as %s, signature expects %s", name, i, params[i].Type, t)
		}
		v, err := coerceValue(params[i].Value, t)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: parameter %d", name, i)
		}
		ty, err := abi.NewType(t, "", nil)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: parameter type %s", name, t)
		}
		inputs[i] = abi.Argument{Name: fmt.Sprintf("param%d", i), Type: ty}
		values[i] = v
	}

	method := abi.NewMethod(name, name, abi.Function, "nonpayable", false, false, inputs, nil)
	packed, err := inputs.Pack(values...)
	if err != nil {
		return nil, errors.Wrapf(err, "packing %s", name)
	}
	return append(method.ID, packed...), nil
}

// PackBoolRead encodes a zero-argument getter call for a public bool
// variable or view function. The name may be written with or without a
// trailing "()".
func PackBoolRead(name string) ([]byte, error) {
	name = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(name), "()"))
	if name == "" || strings.ContainsAny(name, "(), ") {
		return nil, errors.Errorf("invalid property or function name %q", name)
	}
	method := abi.NewMethod(name, name, abi.Function, "view", false, false, nil, boolOutput)
	return method.ID, nil
}

// UnpackBool decodes a single-word boolean return value.
func UnpackBool(data []byte) (bool, error) {
	out, err := boolOutput.Unpack(data)
	if err != nil {
		return false, errors.Wrap(err, "decoding bool return value")
	}
	return out[0].(bool), nil
}

func coerceValue(v interface{}, paramType string) (interface{}, error) {
	switch paramType {
	case "uint256":
		return toUint256(v)
	case "address":
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("address value must be a string, got %T", v)
		}
		if !common.IsHexAddress(s) {
			return nil, errors.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return nil, errors.Errorf("bool value must be true or false, got %T", v)
		}
		return b, nil
	case "address[]":
		raw, ok := v.([]interface{})
		if !ok {
			return nil, errors.Errorf("address[] value must be a list, got %T", v)
		}
		addrs := make([]common.Address, len(raw))
		for i, item := range raw {
			s, ok := item.(string)
			if !ok {
				return nil, errors.Errorf("address[] element %d must be a string, got %T", i, item)
			}
			if !common.IsHexAddress(s) {
				return nil, errors.Errorf("invalid address %q at index %d", s, i)
			}
			addrs[i] = common.HexToAddress(s)
		}
		return addrs, nil
	default:
		return nil, errors.Errorf("unsupported parameter type %q", paramType)
	}
}

// toUint256 accepts the shapes YAML hands us for integers: native ints,
// floats that happen to be whole, and decimal strings for values past the
// int64 range.
func toUint256(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case int:
		if n < 0 {
			return nil, errors.Errorf("uint256 value cannot be negative: %d", n)
		}
		return big.NewInt(int64(n)), nil
	case int64:
		if n < 0 {
			return nil, errors.Errorf("uint256 value cannot be negative: %d", n)
		}
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		bi, acc := big.NewFloat(n).Int(nil)
		if acc != big.Exact || bi.Sign() < 0 {
			return nil, errors.Errorf("uint256 value must be a non-negative integer, got %v", n)
		}
		return bi, nil
	case string:
		bi, ok := new(big.Int).SetString(strings.TrimSpace(n), 10)
		if !ok || bi.Sign() < 0 {
			return nil, errors.Errorf("cannot parse %q as uint256", n)
		}
		return bi, nil
	default:
		return nil, errors.Errorf("uint256 value must be a number or decimal string, got %T", v)
	}
}
