package keys

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ijonas/omikuji/internal/logger"
)

type fakeSecretsClient struct {
	secrets map[string]string
	deleted map[string]bool

	getErr  error
	putErr  error
	created []*secretsmanager.CreateSecretInput
	removed []*secretsmanager.DeleteSecretInput

	pages [][]*secretsmanager.SecretListEntry
}

func newFakeSecretsClient() *fakeSecretsClient {
	return &fakeSecretsClient{
		secrets: make(map[string]string),
		deleted: make(map[string]bool),
	}
}

func (f *fakeSecretsClient) GetSecretValueWithContext(_ aws.Context, in *secretsmanager.GetSecretValueInput, _ ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	value, ok := f.secrets[aws.StringValue(in.SecretId)]
	if !ok {
		return nil, awserr.New(secretsmanager.ErrCodeResourceNotFoundException, "secret not found", nil)
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
}

func (f *fakeSecretsClient) PutSecretValueWithContext(_ aws.Context, in *secretsmanager.PutSecretValueInput, _ ...request.Option) (*secretsmanager.PutSecretValueOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	name := aws.StringValue(in.SecretId)
	if _, ok := f.secrets[name]; !ok {
		return nil, awserr.New(secretsmanager.ErrCodeResourceNotFoundException, "secret not found", nil)
	}
	f.secrets[name] = aws.StringValue(in.SecretString)
	return &secretsmanager.PutSecretValueOutput{}, nil
}

func (f *fakeSecretsClient) CreateSecretWithContext(_ aws.Context, in *secretsmanager.CreateSecretInput, _ ...request.Option) (*secretsmanager.CreateSecretOutput, error) {
	f.created = append(f.created, in)
	f.secrets[aws.StringValue(in.Name)] = aws.StringValue(in.SecretString)
	return &secretsmanager.CreateSecretOutput{}, nil
}

func (f *fakeSecretsClient) DeleteSecretWithContext(_ aws.Context, in *secretsmanager.DeleteSecretInput, _ ...request.Option) (*secretsmanager.DeleteSecretOutput, error) {
	f.removed = append(f.removed, in)
	delete(f.secrets, aws.StringValue(in.SecretId))
	return &secretsmanager.DeleteSecretOutput{}, nil
}

func (f *fakeSecretsClient) ListSecretsWithContext(_ aws.Context, in *secretsmanager.ListSecretsInput, _ ...request.Option) (*secretsmanager.ListSecretsOutput, error) {
	if len(f.pages) == 0 {
		return &secretsmanager.ListSecretsOutput{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	out := &secretsmanager.ListSecretsOutput{SecretList: page}
	if len(f.pages) > 0 {
		out.NextToken = aws.String("more")
	}
	return out, nil
}

func newTestAWSStorage(client secretsAPI) *AWSSecretsStorage {
	return &AWSSecretsStorage{
		lggr:   logger.CreateTestLogger(),
		client: client,
		prefix: "omikuji",
	}
}

func TestParseSecretValue(t *testing.T) {
	structured, err := json.Marshal(secretData{PrivateKey: testKeyHex, Network: "base-sepolia"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, parseSecretValue(string(structured)))

	assert.Equal(t, testKeyHex, parseSecretValue(`{"privateKey":"`+testKeyHex+`"}`))
	assert.Equal(t, testKeyHex, parseSecretValue(`{"value":"`+testKeyHex+`"}`))
	assert.Equal(t, testKeyHex, parseSecretValue(testKeyHex))
}

func TestAWSSecretsStorage_GetKey(t *testing.T) {
	client := newFakeSecretsClient()
	payload, err := json.Marshal(secretData{PrivateKey: testKeyHex})
	require.NoError(t, err)
	client.secrets["omikuji/base-sepolia"] = string(payload)

	s := newTestAWSStorage(client)
	key, err := s.GetKey(context.Background(), "base-sepolia")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, key)
}

func TestAWSSecretsStorage_GetKey_NotFound(t *testing.T) {
	s := newTestAWSStorage(newFakeSecretsClient())
	_, err := s.GetKey(context.Background(), "base-sepolia")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base-sepolia")
}

func TestAWSSecretsStorage_StoreKey_CreatesWhenMissing(t *testing.T) {
	client := newFakeSecretsClient()
	s := newTestAWSStorage(client)

	require.NoError(t, s.StoreKey(context.Background(), "base-sepolia", testKeyHex))
	require.Len(t, client.created, 1)
	assert.Equal(t, "omikuji/base-sepolia", aws.StringValue(client.created[0].Name))

	var tags []string
	for _, tag := range client.created[0].Tags {
		tags = append(tags, aws.StringValue(tag.Key))
	}
	assert.ElementsMatch(t, []string{"Application", "Network"}, tags)

	key, err := s.GetKey(context.Background(), "base-sepolia")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, key)
}

func TestAWSSecretsStorage_StoreKey_UpdatesExisting(t *testing.T) {
	client := newFakeSecretsClient()
	client.secrets["omikuji/base-sepolia"] = "old"
	s := newTestAWSStorage(client)

	require.NoError(t, s.StoreKey(context.Background(), "base-sepolia", testKeyHex))
	assert.Empty(t, client.created)
}

func TestAWSSecretsStorage_RemoveKey(t *testing.T) {
	client := newFakeSecretsClient()
	client.secrets["omikuji/base-sepolia"] = testKeyHex
	s := newTestAWSStorage(client)

	require.NoError(t, s.RemoveKey(context.Background(), "base-sepolia"))
	require.Len(t, client.removed, 1)
	assert.Equal(t, int64(7), aws.Int64Value(client.removed[0].RecoveryWindowInDays))
}

func TestAWSSecretsStorage_ListKeys(t *testing.T) {
	client := newFakeSecretsClient()
	client.pages = [][]*secretsmanager.SecretListEntry{
		{
			{Name: aws.String("omikuji/base-sepolia")},
			{Name: aws.String("omikuji/old-network"), DeletedDate: aws.Time(time.Now())},
		},
		{
			{Name: aws.String("omikuji/eth-mainnet")},
		},
	}
	s := newTestAWSStorage(client)

	networks, err := s.ListKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"base-sepolia", "eth-mainnet"}, networks)
}
