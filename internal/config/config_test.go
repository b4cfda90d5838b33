package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  driver: memory\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Server.SessionMaxAge)
	assert.Equal(t, "console", cfg.Mail.Provider)
	assert.Equal(t, time.Hour, cfg.Reminders.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Reminders.Lookahead)
	assert.Equal(t, 500*time.Millisecond, cfg.Reminders.SendDelay)
	assert.Equal(t, 5*time.Minute, cfg.IPGate.ReloadInterval)
	assert.Equal(t, 5*time.Minute, cfg.TwoFactor.ChallengeTTL)
	assert.Equal(t, cfg.Mail.Association, cfg.TwoFactor.Issuer)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestParse_Timezone(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  driver: memory\nreminders:\n  timezone: Africa/Johannesburg\n"))
	require.NoError(t, err)
	assert.Equal(t, "Africa/Johannesburg", cfg.Location().String())

	_, err = Parse([]byte("database:\n  driver: memory\nreminders:\n  timezone: Mars/Olympus\n"))
	assert.Error(t, err)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown driver":    "database:\n  driver: mysql\n",
		"sendgrid no key":   "database:\n  driver: memory\nmail:\n  provider: sendgrid\n",
		"unknown provider":  "database:\n  driver: memory\nmail:\n  provider: smtp\n",
		"backup on memory":  "database:\n  driver: memory\nbackup:\n  enabled: true\n",
		"ldap without url":  "database:\n  driver: memory\nldap:\n  enabled: true\n",
		"ldap without base": "database:\n  driver: memory\nldap:\n  enabled: true\n  url: ldaps://dir\n  bind_dn: cn=x\n  bind_password: y\n",
		"malformed yaml":    "database: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("WELFARE_SENDGRID_API_KEY", "SG.from-env")
	cfg, err := Parse([]byte("database:\n  driver: memory\nmail:\n  provider: sendgrid\n  api_key: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "SG.from-env", cfg.Mail.APIKey)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: memory\n"), 0o600))
	require.NoError(t, os.WriteFile(envPath, []byte("WELFARE_ROLLBAR_TOKEN=tok-123\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("WELFARE_ROLLBAR_TOKEN") })

	cfg, err := Load(cfgPath, envPath, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Logging.RollbarToken)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLDAPCleartext(t *testing.T) {
	cfg := &Config{LDAP: LDAPConfig{Enabled: true, URL: "ldap://dir.example.org"}}
	assert.True(t, cfg.LDAPCleartext())
	cfg.LDAP.StartTLS = true
	assert.False(t, cfg.LDAPCleartext())
	cfg.LDAP.URL = "ldaps://dir.example.org"
	cfg.LDAP.StartTLS = false
	assert.False(t, cfg.LDAPCleartext())
}
