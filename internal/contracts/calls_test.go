package contracts_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/contracts"
)

func TestParseSignature(t *testing.T) {
	tests := []struct {
		signature string
		name      string
		params    []string
	}{
		{"transfer(address,uint256)", "transfer", []string{"address", "uint256"}},
		{"distributeRewards()", "distributeRewards", nil},
		{" transfer( address , uint256 ) ", "transfer", []string{"address", "uint256"}},
		{"batch(address[],bool)", "batch", []string{"address[]", "bool"}},
	}
	for _, tt := range tests {
		name, params, err := contracts.ParseSignature(tt.signature)
		require.NoError(t, err, tt.signature)
		assert.Equal(t, tt.name, name)
		assert.Equal(t, tt.params, params)
	}
}

func TestParseSignature_Invalid(t *testing.T) {
	for _, signature := range []string{"distributeRewards", "transfer)address(", "(uint256)", ""} {
		_, _, err := contracts.ParseSignature(signature)
		assert.Error(t, err, signature)
	}
}

func TestPackCall_Transfer(t *testing.T) {
	payload, err := contracts.PackCall("transfer(address,uint256)", []config.Parameter{
		{Type: "address", Value: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
		{Type: "uint256", Value: 1000},
	})
	require.NoError(t, err)

	require.Len(t, payload, 4+64)
	assert.Equal(t, common.FromHex("0xa9059cbb"), payload[:4])
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266").Bytes(), payload[16:36])
	assert.Equal(t, big.NewInt(1000), new(big.Int).SetBytes(payload[36:]))
}

func TestPackCall_NoParameters(t *testing.T) {
	payload, err := contracts.PackCall("distributeRewards()", nil)
	require.NoError(t, err)

	selector := crypto.Keccak256([]byte("distributeRewards()"))[:4]
	assert.Equal(t, selector, payload)
}

func TestPackCall_AddressArray(t *testing.T) {
	payload, err := contracts.PackCall("setOracles(address[],bool)", []config.Parameter{
		{Type: "address[]", Value: []interface{}{
			"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			"0x1D9b291e76a07e2469CcC4ee614556978fb86f52",
		}},
		{Type: "bool", Value: true},
	})
	require.NoError(t, err)

	selector := crypto.Keccak256([]byte("setOracles(address[],bool)"))[:4]
	assert.Equal(t, selector, payload[:4])

	// head: offset to the array tail, then the bool; tail: length + 2 words.
	require.Len(t, payload, 4+32*5)
	assert.Equal(t, big.NewInt(64), new(big.Int).SetBytes(payload[4:36]))
	assert.Equal(t, big.NewInt(1), new(big.Int).SetBytes(payload[36:68]))
	assert.Equal(t, big.NewInt(2), new(big.Int).SetBytes(payload[68:100]))
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266").Bytes(), payload[112:132])
	assert.Equal(t, common.HexToAddress("0x1D9b291e76a07e2469CcC4ee614556978fb86f52").Bytes(), payload[144:164])
}

func TestPackCall_Uint256Shapes(t *testing.T) {
	// YAML can hand us ints, whole floats, or decimal strings.
	for _, value := range []interface{}{1000, int64(1000), uint64(1000), float64(1000), "1000"} {
		payload, err := contracts.PackCall("burn(uint256)", []config.Parameter{{Type: "uint256", Value: value}})
		require.NoError(t, err, "%T", value)
		assert.Equal(t, big.NewInt(1000), new(big.Int).SetBytes(payload[4:]), "%T", value)
	}

	// Past int64 range only a string survives YAML intact.
	payload, err := contracts.PackCall("burn(uint256)", []config.Parameter{
		{Type: "uint256", Value: "115792089237316195423570985008687907853269984665640564039457584007913129639935"},
	})
	require.NoError(t, err)
	for _, b := range payload[4:] {
		assert.Equal(t, byte(0xff), b)
	}
}

func TestPackCall_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		params    []config.Parameter
		contains  string
	}{
		{
			"parameter count mismatch",
			"transfer(address,uint256)",
			[]config.Parameter{{Type: "address", Value: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}},
			"1 parameters provided, signature expects 2",
		},
		{
			"declared type mismatch",
			"burn(uint256)",
			[]config.Parameter{{Type: "address", Value: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}},
			"declared as address, signature expects uint256",
		},
		{
			"negative uint256",
			"burn(uint256)",
			[]config.Parameter{{Type: "uint256", Value: -5}},
			"cannot be negative",
		},
		{
			"fractional uint256",
			"burn(uint256)",
			[]config.Parameter{{Type: "uint256", Value: 10.5}},
			"must be a non-negative integer",
		},
		{
			"malformed address",
			"setOwner(address)",
			[]config.Parameter{{Type: "address", Value: "0x1234"}},
			"invalid address",
		},
		{
			"non-string address element",
			"setOracles(address[])",
			[]config.Parameter{{Type: "address[]", Value: []interface{}{42}}},
			"must be a string",
		},
		{
			"unsupported type",
			"store(bytes32)",
			[]config.Parameter{{Type: "bytes32", Value: "deadbeef"}},
			"unsupported parameter type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := contracts.PackCall(tt.signature, tt.params)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestPackBoolRead(t *testing.T) {
	// paused() is the canonical public bool getter.
	payload, err := contracts.PackBoolRead("paused")
	require.NoError(t, err)
	assert.Equal(t, common.FromHex("0x5c975abb"), payload)

	// A trailing () means the same call.
	withParens, err := contracts.PackBoolRead("paused()")
	require.NoError(t, err)
	assert.Equal(t, payload, withParens)

	_, err = contracts.PackBoolRead("")
	assert.Error(t, err)
	_, err = contracts.PackBoolRead("is ready()")
	assert.Error(t, err)
	_, err = contracts.PackBoolRead("check(uint256)")
	assert.Error(t, err)
}

func TestUnpackBool(t *testing.T) {
	truthy, err := contracts.UnpackBool(common.FromHex(
		"0x0000000000000000000000000000000000000000000000000000000000000001"))
	require.NoError(t, err)
	assert.True(t, truthy)

	falsy, err := contracts.UnpackBool(common.FromHex(
		"0x0000000000000000000000000000000000000000000000000000000000000000"))
	require.NoError(t, err)
	assert.False(t, falsy)

	_, err = contracts.UnpackBool([]byte{0x01})
	assert.Error(t, err)

	_, err = contracts.UnpackBool(common.FromHex(
		"0x0000000000000000000000000000000000000000000000000000000000000002"))
	assert.Error(t, err)
}
