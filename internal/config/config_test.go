package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsync-backend/internal/integration"
)

var envKeys = []string{
	"DATABASE_URL", "NATS_URL", "SLACK_WEBHOOK_URL", "SLACK_COOLDOWN", "ADMIN_PORT", "LOG_LEVEL",
	"WORKER_COUNT", "JOB_TIMEOUT", "CALL_TIMEOUT", "FORECAST_DAYS", "SYNC_SCHEDULE",
	"FORECAST_SCHEDULE", "SLA_SCHEDULE", "WARMUP_DELAY", "JIRA_BASE_URL", "JIRA_EMAIL",
	"JIRA_API_TOKEN", "JIRA_PROJECT_KEY", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	"AWS_REGION", "AWS_COST_EXPLORER_ENDPOINT", "COST_ENVIRONMENT_TAG", "ENCRYPTION_KEY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0 */6 * * *", cfg.Schedules.Sync)
	assert.Equal(t, "0 2 * * *", cfg.Schedules.Forecast)
	assert.Equal(t, "0 3 * * 1", cfg.Schedules.SLA)
	assert.Equal(t, 30*time.Second, cfg.Schedules.WarmUp)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
	assert.Equal(t, "customfield_10040", cfg.Jira.Fields.Environment)
	assert.False(t, cfg.JiraEnabled())
	assert.False(t, cfg.CostsEnabled())
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "opsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
admin_port: "9000"
job_timeout: 5m
schedules:
  sync: "@every 1h"
jira:
  base_url: https://example.atlassian.net
  email: ops@example.com
  api_token: file-token
  project_key: OPS
  fields:
    environment: customfield_20000
aws:
  region: eu-west-1
`), 0o600))
	t.Setenv("ADMIN_PORT", "9100")
	t.Setenv("CALL_TIMEOUT", "45")
	t.Setenv("JIRA_API_TOKEN", "env-token")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.AdminPort)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 45*time.Second, cfg.CallTimeout)
	assert.Equal(t, "@every 1h", cfg.Schedules.Sync)
	assert.Equal(t, "0 2 * * *", cfg.Schedules.Forecast)
	assert.Equal(t, "env-token", cfg.Jira.APIToken)
	assert.Equal(t, "customfield_20000", cfg.Jira.Fields.Environment)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.True(t, cfg.JiraEnabled())
	assert.Equal(t, []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"}, cfg.MissingCredentials()[integration.AWSCostExplorer])
}

func TestLoadRevealsSealedSecrets(t *testing.T) {
	clearEnv(t)
	box, err := NewSecretBox([]byte(testKey))
	require.NoError(t, err)
	sealed, err := box.Seal("aws-secret")
	require.NoError(t, err)

	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", sealed)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "aws-secret", cfg.AWS.SecretAccessKey)
	assert.True(t, cfg.CostsEnabled())
}

func TestLoadSealedSecretWithoutKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("JIRA_API_TOKEN", "enc:AAAA")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.Workers = 0
	cfg.CallTimeout = time.Hour
	cfg.DatabaseURL = " "
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "worker count")
	assert.Contains(t, err.Error(), "exceeds job timeout")
}

func TestSecretBox(t *testing.T) {
	box, err := NewSecretBox([]byte(testKey))
	require.NoError(t, err)
	a, err := box.Seal("token")
	require.NoError(t, err)
	b, err := box.Seal("token")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonce must differ per seal")

	plain, err := box.Open(a)
	require.NoError(t, err)
	assert.Equal(t, "token", plain)

	plain, err = box.Open("not-sealed")
	require.NoError(t, err)
	assert.Equal(t, "not-sealed", plain)

	other, err := NewSecretBox([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)
	_, err = other.Open(a)
	assert.Error(t, err)

	_, err = NewSecretBox([]byte("short"))
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("OPSYNC_TEST_DURATION", "2m")
	assert.Equal(t, 2*time.Minute, getenvDuration("OPSYNC_TEST_DURATION", time.Second))
	t.Setenv("OPSYNC_TEST_DURATION", "15")
	assert.Equal(t, 15*time.Second, getenvDuration("OPSYNC_TEST_DURATION", time.Second))
	t.Setenv("OPSYNC_TEST_DURATION", "soon")
	assert.Equal(t, time.Second, getenvDuration("OPSYNC_TEST_DURATION", time.Second))
}
