package keys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ijonas/omikuji/internal/logger"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestEnvStorage_GetKey(t *testing.T) {
	t.Setenv("OMIKUJI_TEST_KEY_BASE_SEPOLIA", testKeyHex)

	s := NewEnvStorage(logger.CreateTestLogger(), "OMIKUJI_TEST_KEY", "OMIKUJI_TEST_LEGACY")
	key, err := s.GetKey(context.Background(), "base-sepolia")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, key)
}

func TestEnvStorage_GetKey_LegacyFallback(t *testing.T) {
	t.Setenv("OMIKUJI_TEST_LEGACY", testKeyHex)

	s := NewEnvStorage(logger.CreateTestLogger(), "OMIKUJI_TEST_KEY", "OMIKUJI_TEST_LEGACY")
	key, err := s.GetKey(context.Background(), "eth-mainnet")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, key)
}

func TestEnvStorage_GetKey_NotFound(t *testing.T) {
	s := NewEnvStorage(logger.CreateTestLogger(), "OMIKUJI_TEST_KEY", "OMIKUJI_TEST_LEGACY")
	_, err := s.GetKey(context.Background(), "nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OMIKUJI_TEST_KEY_NOWHERE")
	assert.Contains(t, err.Error(), "OMIKUJI_TEST_LEGACY")
}

func TestEnvStorage_ListKeys(t *testing.T) {
	t.Setenv("OMIKUJI_TEST_KEY_BASE_SEPOLIA", testKeyHex)
	t.Setenv("OMIKUJI_TEST_KEY_ETH_MAINNET", testKeyHex)

	s := NewEnvStorage(logger.CreateTestLogger(), "OMIKUJI_TEST_KEY", "")
	networks, err := s.ListKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"base-sepolia", "eth-mainnet"}, networks)
}

func TestEnvStorage_ListKeys_LegacyOnly(t *testing.T) {
	t.Setenv("OMIKUJI_TEST_LEGACY", testKeyHex)

	s := NewEnvStorage(logger.CreateTestLogger(), "OMIKUJI_TEST_KEY", "OMIKUJI_TEST_LEGACY")
	networks, err := s.ListKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, networks)
}

func TestEnvStorage_ReadOnly(t *testing.T) {
	s := NewEnvStorage(logger.CreateTestLogger(), "OMIKUJI_TEST_KEY", "")
	assert.Error(t, s.StoreKey(context.Background(), "base-sepolia", testKeyHex))
	assert.Error(t, s.RemoveKey(context.Background(), "base-sepolia"))
}
