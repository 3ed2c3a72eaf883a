package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaultsUnknownMode(t *testing.T) {
	p := &Profile{Mode: "staging", Driver: "postgres", DSN: "postgres://x"}
	require.NoError(t, p.Validate())
	assert.Equal(t, "demo", p.Mode)
	assert.True(t, p.IsDev())
}

func TestValidateProdRequiresSecrets(t *testing.T) {
	p := &Profile{Mode: "prod", Driver: "postgres", DSN: "postgres://x"}
	assert.Error(t, p.Validate())

	p.JWTSecret = "secret"
	assert.Error(t, p.Validate())

	p.VaultMasterKey = "0000000000000000000000000000000000000000000000000000000000000000"
	assert.NoError(t, p.Validate())
	assert.False(t, p.IsDev())
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	p := &Profile{Mode: "dev", Driver: "postgres"}
	assert.Error(t, p.Validate())
}

func TestValidateSQLiteDerivesDSN(t *testing.T) {
	p := &Profile{Mode: "dev", Driver: "sqlite", Data: t.TempDir()}
	require.NoError(t, p.Validate())
	assert.Contains(t, p.DSN, "openmates_dev.db")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OPENMATES_REDIS_ADDR", "redis:6380")
	t.Setenv("OPENMATES_REDIS_DB", "3")
	t.Setenv("OPENMATES_JWT_SECRET", "from-env")

	p := &Profile{}
	p.FromEnv()
	assert.Equal(t, "redis:6380", p.RedisAddr)
	assert.Equal(t, 3, p.RedisDB)
	assert.Equal(t, "from-env", p.JWTSecret)
}
