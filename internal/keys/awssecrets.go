package keys

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/logger"
)

const awsBackendName = "aws_secrets"

// secretsAPI is the slice of the Secrets Manager client this backend uses.
type secretsAPI interface {
	GetSecretValueWithContext(aws.Context, *secretsmanager.GetSecretValueInput, ...request.Option) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValueWithContext(aws.Context, *secretsmanager.PutSecretValueInput, ...request.Option) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecretWithContext(aws.Context, *secretsmanager.CreateSecretInput, ...request.Option) (*secretsmanager.CreateSecretOutput, error)
	DeleteSecretWithContext(aws.Context, *secretsmanager.DeleteSecretInput, ...request.Option) (*secretsmanager.DeleteSecretOutput, error)
	ListSecretsWithContext(aws.Context, *secretsmanager.ListSecretsInput, ...request.Option) (*secretsmanager.ListSecretsOutput, error)
}

// secretData is the JSON object stored per network.
type secretData struct {
	PrivateKey  string `json:"private_key"`
	Network     string `json:"network,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	Description string `json:"description,omitempty"`
}

// AWSSecretsStorage keeps keys in AWS Secrets Manager under
// {prefix}/{network}. Credentials come from the default AWS chain.
type AWSSecretsStorage struct {
	lggr   *logger.Logger
	client secretsAPI
	prefix string
}

func NewAWSSecretsStorage(lggr *logger.Logger, cfg config.AWSSecretsConfig) (*AWSSecretsStorage, error) {
	awsCfg := aws.Config{}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}
	return &AWSSecretsStorage{
		lggr:   lggr.Named("AWSSecretKeys"),
		client: secretsmanager.New(sess),
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

func (a *AWSSecretsStorage) Backend() string { return awsBackendName }

func (a *AWSSecretsStorage) secretName(network string) string {
	if a.prefix == "" {
		return network
	}
	return a.prefix + "/" + network
}

// parseSecretValue accepts the structured JSON form, a generic JSON object
// with a recognised key field, or a bare string secret.
func parseSecretValue(raw string) string {
	var data secretData
	if err := json.Unmarshal([]byte(raw), &data); err == nil && data.PrivateKey != "" {
		return data.PrivateKey
	}
	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &generic); err == nil {
		for _, field := range []string{"private_key", "privateKey", "key", "value"} {
			if v, ok := generic[field].(string); ok && v != "" {
				return v
			}
		}
	}
	return raw
}

func (a *AWSSecretsStorage) GetKey(ctx context.Context, network string) (string, error) {
	out, err := a.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretName(network)),
	})
	if err != nil {
		err = errors.Wrapf(err, "reading key for network %q from secrets manager", network)
		audit(a.lggr, awsBackendName, "get_key", network, err)
		return "", err
	}
	if out.SecretString == nil {
		err = errors.Errorf("secret for network %q has no string value", network)
		audit(a.lggr, awsBackendName, "get_key", network, err)
		return "", err
	}
	audit(a.lggr, awsBackendName, "get_key", network, nil)
	return parseSecretValue(*out.SecretString), nil
}

func (a *AWSSecretsStorage) StoreKey(ctx context.Context, network, key string) error {
	payload, err := json.Marshal(secretData{
		PrivateKey:  key,
		Network:     network,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		CreatedBy:   "omikuji",
		Description: "omikuji signing key for network " + network,
	})
	if err != nil {
		return errors.Wrap(err, "serializing secret")
	}
	name := a.secretName(network)

	_, err = a.client.PutSecretValueWithContext(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(string(payload)),
	})
	if err == nil {
		audit(a.lggr, awsBackendName, "store_key", network, nil)
		return nil
	}
	if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != secretsmanager.ErrCodeResourceNotFoundException {
		err = errors.Wrapf(err, "storing key for network %q in secrets manager", network)
		audit(a.lggr, awsBackendName, "store_key", network, err)
		return err
	}

	_, err = a.client.CreateSecretWithContext(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		Description:  aws.String("omikuji signing key for network " + network),
		SecretString: aws.String(string(payload)),
		Tags: []*secretsmanager.Tag{
			{Key: aws.String("Application"), Value: aws.String("omikuji")},
			{Key: aws.String("Network"), Value: aws.String(network)},
		},
	})
	if err != nil {
		err = errors.Wrapf(err, "creating secret for network %q", network)
	}
	audit(a.lggr, awsBackendName, "store_key", network, err)
	return err
}

// RemoveKey schedules deletion with a 7 day recovery window rather than
// deleting immediately.
func (a *AWSSecretsStorage) RemoveKey(ctx context.Context, network string) error {
	_, err := a.client.DeleteSecretWithContext(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:             aws.String(a.secretName(network)),
		RecoveryWindowInDays: aws.Int64(7),
	})
	if err != nil {
		err = errors.Wrapf(err, "removing key for network %q from secrets manager", network)
	}
	audit(a.lggr, awsBackendName, "remove_key", network, err)
	return err
}

func (a *AWSSecretsStorage) ListKeys(ctx context.Context) ([]string, error) {
	input := &secretsmanager.ListSecretsInput{}
	if a.prefix != "" {
		input.Filters = []*secretsmanager.Filter{{
			Key:    aws.String(secretsmanager.FilterNameStringTypeName),
			Values: []*string{aws.String(a.prefix)},
		}}
	}

	var networks []string
	for {
		out, err := a.client.ListSecretsWithContext(ctx, input)
		if err != nil {
			err = errors.Wrap(err, "listing secrets")
			audit(a.lggr, awsBackendName, "list_keys", "", err)
			return nil, err
		}
		for _, entry := range out.SecretList {
			if entry.DeletedDate != nil {
				continue
			}
			name := aws.StringValue(entry.Name)
			if a.prefix != "" && strings.HasPrefix(name, a.prefix) {
				name = strings.TrimPrefix(strings.TrimPrefix(name, a.prefix), "/")
			}
			networks = append(networks, name)
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}
	audit(a.lggr, awsBackendName, "list_keys", "", nil)
	return networks, nil
}
