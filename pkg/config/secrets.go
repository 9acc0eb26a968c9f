package config

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"os"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretRef identifies a secret value from one of several sources.
// Exactly one of AwsSecretArn, InsecureValue, or EnvVar must be set.
type SecretRef struct {
	// AwsSecretArn is the ARN of an AWS Secrets Manager secret holding a JSON
	// object. Key selects the field to extract.
	AwsSecretArn string `json:"aws_secret_arn,omitempty"`
	Key          string `json:"key,omitempty"`

	// InsecureValue is a plaintext value. Use only for development and tests.
	InsecureValue string `json:"insecure_value,omitempty"`

	// EnvVar is the name of an environment variable containing the value.
	EnvVar string `json:"env_var,omitempty"`
}

// Validate checks that exactly one secret source is configured.
func (r SecretRef) Validate() error {
	sources := 0
	if r.AwsSecretArn != "" {
		sources++
	}
	if r.InsecureValue != "" {
		sources++
	}
	if r.EnvVar != "" {
		sources++
	}

	if sources != 1 {
		return errors.New("secret ref must have exactly one of: aws_secret_arn, insecure_value, or env_var")
	}
	if r.AwsSecretArn != "" && r.Key == "" {
		return errors.New("aws_secret_arn requires key to be set")
	}
	return nil
}

// SecretsManagerClient is the subset of the AWS Secrets Manager API used
// here. It exists so tests can inject a fake.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretCache resolves SecretRefs, caching Secrets Manager fetches so that a
// reconnect loop does not hammer the AWS API.
type SecretCache struct {
	mu     sync.Mutex
	cache  map[string]map[string]any
	client SecretsManagerClient
}

// NewSecretCache creates a SecretCache with the given Secrets Manager client.
// The client may be nil if no refs use aws_secret_arn.
func NewSecretCache(client SecretsManagerClient) *SecretCache {
	return &SecretCache{
		cache:  make(map[string]map[string]any),
		client: client,
	}
}

// NewSecretCacheFromEnv creates a SecretCache using AWS config from the
// environment.
func NewSecretCacheFromEnv(ctx context.Context) (*SecretCache, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSecretCache(secretsmanager.NewFromConfig(cfg)), nil
}

// Get retrieves the value for the given SecretRef.
func (sc *SecretCache) Get(ctx context.Context, ref SecretRef) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}

	if ref.InsecureValue != "" {
		return ref.InsecureValue, nil
	}

	if ref.EnvVar != "" {
		val, ok := os.LookupEnv(ref.EnvVar)
		if !ok {
			return "", fmt.Errorf("environment variable %q not set", ref.EnvVar)
		}
		return val, nil
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	data, ok := sc.cache[ref.AwsSecretArn]
	if !ok {
		var err error
		data, err = sc.fetchSecret(ctx, ref.AwsSecretArn)
		if err != nil {
			return "", err
		}
		sc.cache[ref.AwsSecretArn] = data
	}

	val, ok := data[ref.Key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %s", ref.Key, ref.AwsSecretArn)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("value at key %q is not a string (got %T)", ref.Key, val)
	}
	return str, nil
}

func (sc *SecretCache) fetchSecret(ctx context.Context, arn string) (map[string]any, error) {
	if sc.client == nil {
		return nil, fmt.Errorf("no Secrets Manager client configured for secret %s", arn)
	}

	output, err := sc.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", arn, err)
	}
	if output.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", arn)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(*output.SecretString), &data); err != nil {
		return nil, fmt.Errorf("failed to parse secret %s as JSON: %w", arn, err)
	}
	return data, nil
}
