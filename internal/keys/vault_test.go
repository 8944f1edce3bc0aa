package keys

import (
	"context"
	"net/http"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gock.v1"

	"github.com/ijonas/omikuji/internal/logger"
)

const vaultTestAddr = "http://vault.oracle.test:8200"

func newTestVaultStorage(t *testing.T) *VaultStorage {
	httpClient := &http.Client{}
	gock.InterceptClient(httpClient)

	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = vaultTestAddr
	vaultCfg.HttpClient = httpClient
	vaultCfg.MaxRetries = 0
	client, err := api.NewClient(vaultCfg)
	require.NoError(t, err)
	client.SetToken("unit-test-token")

	return &VaultStorage{
		lggr:   logger.CreateTestLogger(),
		client: client,
		mount:  "secret",
		prefix: "omikuji",
	}
}

func kvReadReply(data map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": map[string]interface{}{
			"data": data,
			"metadata": map[string]interface{}{
				"created_time": "2025-01-01T00:00:00Z",
				"version":      1,
				"destroyed":    false,
			},
		},
	}
}

func TestVaultStorage_GetKey(t *testing.T) {
	defer gock.Off()
	gock.New(vaultTestAddr).
		Get("/v1/secret/data/omikuji/base-sepolia").
		Reply(200).
		JSON(kvReadReply(map[string]interface{}{
			"private_key": testKeyHex,
			"network":     "base-sepolia",
		}))

	s := newTestVaultStorage(t)
	key, err := s.GetKey(context.Background(), "base-sepolia")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, key)
}

func TestVaultStorage_GetKey_AlternateField(t *testing.T) {
	defer gock.Off()
	gock.New(vaultTestAddr).
		Get("/v1/secret/data/omikuji/eth-mainnet").
		Reply(200).
		JSON(kvReadReply(map[string]interface{}{"value": testKeyHex}))

	s := newTestVaultStorage(t)
	key, err := s.GetKey(context.Background(), "eth-mainnet")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, key)
}

func TestVaultStorage_GetKey_MissingField(t *testing.T) {
	defer gock.Off()
	gock.New(vaultTestAddr).
		Get("/v1/secret/data/omikuji/base-sepolia").
		Reply(200).
		JSON(kvReadReply(map[string]interface{}{"note": "nothing useful"}))

	s := newTestVaultStorage(t)
	_, err := s.GetKey(context.Background(), "base-sepolia")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base-sepolia")
}

func TestVaultStorage_GetKey_BackendError(t *testing.T) {
	defer gock.Off()
	gock.New(vaultTestAddr).
		Get("/v1/secret/data/omikuji/base-sepolia").
		Reply(503).
		JSON(map[string]interface{}{"errors": []string{"vault is sealed"}})

	s := newTestVaultStorage(t)
	_, err := s.GetKey(context.Background(), "base-sepolia")
	require.Error(t, err)
}

func TestVaultStorage_StoreKey(t *testing.T) {
	defer gock.Off()
	gock.New(vaultTestAddr).
		Put("/v1/secret/data/omikuji/base-sepolia").
		Reply(200).
		JSON(map[string]interface{}{
			"data": map[string]interface{}{
				"created_time": "2025-01-01T00:00:00Z",
				"version":      1,
			},
		})

	s := newTestVaultStorage(t)
	require.NoError(t, s.StoreKey(context.Background(), "base-sepolia", testKeyHex))
}

func TestVaultStorage_ListKeys(t *testing.T) {
	defer gock.Off()
	// The vault client encodes LIST as a GET with the list=true query param.
	gock.New(vaultTestAddr).
		Get("/v1/secret/metadata/omikuji").
		MatchParam("list", "true").
		Reply(200).
		JSON(map[string]interface{}{
			"data": map[string]interface{}{
				"keys": []string{"base-sepolia", "eth-mainnet", "archived/"},
			},
		})

	s := newTestVaultStorage(t)
	networks, err := s.ListKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"base-sepolia", "eth-mainnet"}, networks)
}
