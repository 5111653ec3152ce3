package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Host: "localhost", User: "app", DBName: "support_mail"},
		Vault:    VaultConfig{MasterKey: "key"},
		AI:       AIConfig{APIKey: "sk-test"},
		Scheduler: SchedulerConfig{
			IngestIntervalMinutes:  5,
			WorkerIntervalMinutes:  1,
			JanitorIntervalMinutes: 5,
			ShopConcurrency:        5,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Server.Port = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Database.User = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Vault.MasterKey = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.AI.APIKey = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Scheduler.WorkerIntervalMinutes = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Scheduler.ShopConcurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	dsn := cfg.GetDSN()
	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local"
	assert.Equal(t, expected, dsn)
}
