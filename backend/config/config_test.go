package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "secret")

	cfg, loaded, err := Load("does-not-exist.env")
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Equal(t, "mongo", cfg.StoreBackend)
	assert.Equal(t, "template", cfg.Generator)
	assert.Equal(t, 3, cfg.GenerationAttempts)
	assert.Equal(t, 3, cfg.TargetActiveQuests)
	assert.Equal(t, 2*time.Minute, cfg.ReplenishLockTTL)
	assert.Equal(t, 15*time.Minute, cfg.VerificationTTL)
	assert.Equal(t, 60*time.Second, cfg.VerificationResendCooldown)
}

func TestLoadRequiresSigningKey(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "")
	_, _, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWTSigningKey:      "k",
			StoreBackend:       "memory",
			CacheBackend:       "memory",
			QueueBackend:       "inprocess",
			Generator:          "template",
			GenerationAttempts: 3,
			TargetActiveQuests: 3,
		}
	}
	assert.NoError(t, base().Validate())

	c := base()
	c.StoreBackend = "sqlite"
	assert.Error(t, c.Validate())

	c = base()
	c.Generator = "model"
	assert.Error(t, c.Validate())
	c.OpenAIAPIKey = "sk-test"
	assert.NoError(t, c.Validate())

	c = base()
	c.GenerationAttempts = 0
	assert.Error(t, c.Validate())

	c = base()
	c.QueueBackend = "amqp"
	assert.Error(t, c.Validate())
}
