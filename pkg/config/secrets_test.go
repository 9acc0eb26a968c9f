package config

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRefValidate(t *testing.T) {
	tests := []struct {
		name    string
		ref     SecretRef
		wantErr bool
	}{
		{"insecure value", SecretRef{InsecureValue: "x"}, false},
		{"env var", SecretRef{EnvVar: "X"}, false},
		{"arn with key", SecretRef{AwsSecretArn: "arn:...", Key: "password"}, false},
		{"empty", SecretRef{}, true},
		{"two sources", SecretRef{InsecureValue: "x", EnvVar: "X"}, true},
		{"arn without key", SecretRef{AwsSecretArn: "arn:..."}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSecretCacheEnvVar(t *testing.T) {
	t.Setenv("TEST_SECRET_VALUE", "s3cret")

	sc := NewSecretCache(nil)
	val, err := sc.Get(context.Background(), SecretRef{EnvVar: "TEST_SECRET_VALUE"})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", val)

	_, err = sc.Get(context.Background(), SecretRef{EnvVar: "TEST_SECRET_UNSET"})
	require.Error(t, err)
}

// fakeSecretsManager serves a canned JSON secret and counts fetches.
type fakeSecretsManager struct {
	calls  atomic.Int32
	secret string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls.Add(1)
	return &secretsmanager.GetSecretValueOutput{SecretString: &f.secret}, nil
}

func TestSecretCacheFetchesOnce(t *testing.T) {
	fake := &fakeSecretsManager{secret: `{"username": "alice", "password": "hunter2"}`}
	sc := NewSecretCache(fake)
	ref := func(key string) SecretRef {
		return SecretRef{AwsSecretArn: "arn:aws:secretsmanager:us-east-1:1:secret:db", Key: key}
	}

	user, err := sc.Get(context.Background(), ref("username"))
	require.NoError(t, err)
	password, err := sc.Get(context.Background(), ref("password"))
	require.NoError(t, err)

	assert.Equal(t, "alice", user)
	assert.Equal(t, "hunter2", password)
	assert.Equal(t, int32(1), fake.calls.Load(), "same ARN fetched once")
}

func TestSecretCacheMissingKey(t *testing.T) {
	fake := &fakeSecretsManager{secret: `{"username": "alice"}`}
	sc := NewSecretCache(fake)

	_, err := sc.Get(context.Background(), SecretRef{AwsSecretArn: "arn:x", Key: "password"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `key "password" not found`)
}

func TestSecretCacheNoClient(t *testing.T) {
	sc := NewSecretCache(nil)
	_, err := sc.Get(context.Background(), SecretRef{AwsSecretArn: "arn:x", Key: "password"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Secrets Manager client")
}
