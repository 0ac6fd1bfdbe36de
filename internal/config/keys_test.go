package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAPIKey(t *testing.T) {
	t.Run("from environment variable", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
		key, err := GetAPIKey(&Config{Generator: GeneratorConfig{APIKey: "sk-ant-config-key"}})
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-test-key", key)
		assert.Equal(t, KeySourceEnv, GetAPIKeySource(nil))
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		cfg := &Config{Generator: GeneratorConfig{APIKey: "sk-ant-config-key"}}
		key, err := GetAPIKey(cfg)
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-config-key", key)
		assert.Equal(t, KeySourceConfig, GetAPIKeySource(cfg))
	})

	t.Run("unexpanded reference", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, err := GetAPIKey(&Config{Generator: GeneratorConfig{APIKey: "${UNSET_DOCWEAVE_KEY}"}})
		assert.ErrorIs(t, err, ErrNoAPIKey)
	})

	t.Run("no key configured", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, err := GetAPIKey(&Config{})
		assert.ErrorIs(t, err, ErrNoAPIKey)
		assert.Equal(t, KeySourceNone, GetAPIKeySource(&Config{}))
	})
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "sk-ant-REDACTED", false},
		{"empty key", "", true},
		{"wrong prefix", "sk-openai-abcdefghijklmnop", true},
		{"too short", "sk-ant-abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "(not set)", MaskAPIKey(""))
	assert.Equal(t, "***", MaskAPIKey("short"))
	assert.Equal(t, "sk-ant-...mnop", MaskAPIKey("sk-ant-REDACTED"))
}

func TestIsSecretKey(t *testing.T) {
	assert.True(t, IsSecretKey("generator.api_key"))
	assert.True(t, IsSecretKey("State.DSN"))
	assert.False(t, IsSecretKey("server.addr"))
}
