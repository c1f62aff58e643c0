package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
database:
  driver: postgres
  host: db.internal
  username: app
  dbname: storefront
redis:
  host: cache.internal
security:
  jwt:
    secret: file-secret
queue:
  driver: redis
  visibility_timeout: 45s
checkout:
  tax_rate: "0.07"
notification:
  driver: kafka
  brokers: ["kafka-1:9092"]
`

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", sampleYAML)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "redis", cfg.Queue.Driver)
	assert.Equal(t, 45*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 3, cfg.Queue.MaxReceiveCount)
	assert.Equal(t, 10, cfg.Queue.BatchSize)
	assert.Equal(t, "0.07", cfg.Checkout.TaxRateDecimal().String())
	assert.Equal(t, 3, cfg.Checkout.PaymentRetry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Checkout.PaymentRetry.InitialDelay)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Notification.Brokers)
	assert.Same(t, cfg, GetConfig())
}

func TestLoadConfig_EnvOverridesSecret(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", sampleYAML)
	t.Setenv("STOREFRONT_SECURITY_JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Security.JWT.Secret)
}

func TestLoadConfig_EnvFileMerged(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", sampleYAML)
	writeConfig(t, dir, "config.staging.yaml", "server:\n  port: 7070\n")
	t.Setenv("STOREFRONT_ENV", "staging")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.Database.Username = "app"
		c.Database.DBName = "storefront"
		c.Security.JWT.Secret = "s"
		c.Worker.Embedded = true
		c.SetDefaults()
		return c
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown db driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"missing secret", func(c *Config) { c.Security.JWT.Secret = "" }},
		{"memory queue without embedded worker", func(c *Config) { c.Worker.Embedded = false }},
		{"batch too large", func(c *Config) { c.Queue.BatchSize = 11 }},
		{"bad tax rate", func(c *Config) { c.Checkout.TaxRate = "eight" }},
		{"negative tolerance", func(c *Config) { c.Checkout.PriceTolerance = "-0.1" }},
		{"http payment without endpoint", func(c *Config) { c.Payment.Driver = "http" }},
		{"kafka without brokers", func(c *Config) { c.Notification.Driver = "kafka" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestGetDSN(t *testing.T) {
	mysqlCfg := DatabaseConfig{Driver: "mysql", Username: "u", Password: "p", Host: "h", Port: 3306, DBName: "d", ParseTime: true}
	assert.Equal(t, "u:p@tcp(h:3306)/d?charset=utf8mb4&parseTime=true&loc=Local", mysqlCfg.GetDSN())

	pgCfg := DatabaseConfig{Driver: "postgres", Username: "u", Password: "p", Host: "h", Port: 5432, DBName: "d"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", pgCfg.GetDSN())
}
