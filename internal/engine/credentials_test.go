package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pipeline-engine/internal/model"
)

func TestEnvCredentialProvider(t *testing.T) {
	t.Setenv("ORDERS_NIGHTLY_CRED_ACCOUNT", "acme")
	t.Setenv("ORDERS_NIGHTLY_CRED_PASSWORD", "hunter2")
	t.Setenv("OTHER_CRED_ACCOUNT", "not-mine")

	creds, err := EnvCredentialProvider{}.Resolve(context.Background(), "orders-nightly")
	require.NoError(t, err)
	require.Equal(t, model.Credentials{
		"account":  "acme",
		"password": "hunter2",
	}, creds)
}

func TestEnvCredentialProviderEmpty(t *testing.T) {
	creds, err := EnvCredentialProvider{}.Resolve(context.Background(), "never-configured")
	require.NoError(t, err)
	require.Empty(t, creds)
}

func TestCredPrefixSanitizesName(t *testing.T) {
	require.Equal(t, "ORDERS_NIGHTLY_CRED_", credPrefix("orders-nightly"))
	require.Equal(t, "A_B_2_CRED_", credPrefix("a b.2"))
}

func TestStaticCredentials(t *testing.T) {
	creds, err := StaticCredentials{"token": "x"}.Resolve(context.Background(), "any")
	require.NoError(t, err)
	require.Equal(t, "x", creds["token"])
}
