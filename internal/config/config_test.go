package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		MySQL:    MySQLConfig{Host: "127.0.0.1", User: "ledger", Database: "debit_ledger"},
		Ledger:   LedgerConfig{GiftCardValidityDays: 15, IsolationLevel: "repeatable_read"},
		Business: BusinessConfig{MaxRetryCount: 5},
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalYAML = `
mysql:
  host: db.internal
  user: ledger
  database: debit_ledger
`

func TestValidate_IsolationLevel(t *testing.T) {
	cases := []struct {
		level string
		ok    bool
	}{
		{"", true},
		{"repeatable_read", true},
		{"REPEATABLE_READ", true},
		{"serializable", true},
		{"read_committed", false},
		{"read_uncommitted", false},
		{"snapshot", false},
	}
	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Ledger.IsolationLevel = tc.level
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "isolation_level")
		})
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	cfg := validConfig()
	cfg.MySQL.Host = ""
	cfg.Ledger.GiftCardValidityDays = 0
	cfg.Business.MaxRetryCount = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql.host")
	assert.Contains(t, err.Error(), "gift_card_validity_days")
	assert.Contains(t, err.Error(), "max_retry_count")
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.MySQL.Host)
	assert.Equal(t, "repeatable_read", cfg.Ledger.IsolationLevel)
	assert.Equal(t, 15*24*time.Hour, cfg.Ledger.GiftCardValidity())
	assert.Equal(t, "ledger.movements", cfg.Kafka.Topic.Movements)
	assert.Equal(t, 5, cfg.Business.MaxRetryCount)
}

func TestLoadConfig_RejectsReadCommitted(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, minimalYAML+`
ledger:
  isolation_level: read_committed
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read_committed")
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("LEDGER_MYSQL_HOST", "db.from.env")

	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "db.from.env", cfg.MySQL.Host)
}
