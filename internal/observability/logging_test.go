package observability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactStringRedactsAuthorizationHeader(t *testing.T) {
	got := RedactString("Authorization: Bearer sk-live-abc123")
	require.Contains(t, got, "***REDACTED***")
	require.NotContains(t, got, "sk-live-abc123")
}

func TestRedactStringRedactsAPIKeyHeader(t *testing.T) {
	got := RedactString("X-API-Key: abcdef0123456789")
	require.Contains(t, got, "***REDACTED***")
	require.NotContains(t, got, "abcdef0123456789")
}

func TestRedactStringRedactsSecretKeyField(t *testing.T) {
	got := RedactString("secret_key=s3cr3tvalue")
	require.Contains(t, got, "***REDACTED***")
	require.NotContains(t, got, "s3cr3tvalue")
}

func TestRedactStringLeavesOrdinaryTextAlone(t *testing.T) {
	msg := "migration session sess-123 completed in 42 steps"
	require.Equal(t, msg, RedactString(msg))
}

func TestRedactEnvRedactsSensitiveKeys(t *testing.T) {
	env := []string{"DB_PASSWORD=hunter2", "PATH=/usr/bin", "API_TOKEN=xyz"}
	got := RedactEnv(env)
	require.True(t, strings.HasSuffix(got[0], "***REDACTED***"))
	require.Equal(t, "PATH=/usr/bin", got[1])
	require.True(t, strings.HasSuffix(got[2], "***REDACTED***"))
}
