package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseSenders(t *testing.T) {
	senders := ParseSenders(" alerts@sraws.com:pw1, digest@sraws.com:pw:2 ,,")

	assert.Equal(t, []SMTPSender{
		{Address: "alerts@sraws.com", Password: "pw1"},
		{Address: "digest@sraws.com", Password: "pw:2"},
	}, senders)
	assert.Empty(t, ParseSenders(""))
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("DIGEST_WINDOW", "15m")
	t.Setenv("SMTP_DAILY_QUOTA", "not-a-number")
	t.Setenv("MONGO_TRANSACTIONS", "true")

	cfg := Load()

	assert.Equal(t, 15*time.Minute, cfg.DigestWindow)
	assert.Equal(t, 450, cfg.SMTPDailyQuota)
	assert.True(t, cfg.MongoTransactions)
	assert.Equal(t, "@every 10m", cfg.DigestSchedule)
}

func TestValidate(t *testing.T) {
	cfg := &Config{MongoURI: "mongodb://localhost", RedisAddr: "localhost:6379"}
	assert.Error(t, cfg.Validate())

	cfg.PostgresConnStr = "postgres://localhost/sraws"
	assert.NoError(t, cfg.Validate())
}

func TestIsDevelopment(t *testing.T) {
	assert.True(t, (&Config{Env: "development"}).IsDevelopment())
	assert.False(t, (&Config{Env: "production"}).IsDevelopment())
}
