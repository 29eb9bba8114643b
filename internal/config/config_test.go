package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 100, cfg.ICE.CandidateQueue)
	require.Len(t, cfg.ICE.Servers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICE.Servers[0].URLs)
	assert.Equal(t, 1500*time.Millisecond, cfg.Call.EndGrace)
	assert.Equal(t, "appointments", cfg.Schedule.JoinPolicy)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.Media.PreferVideo)
	assert.Zero(t, cfg.Negotiation.LegacyOfferDelay)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
port: 9090
ice:
  servers:
    - urls: ["stun:a.example.com:3478"]
    - urls: ["turn:b.example.com:3478"]
      username: u
      credential: p
negotiation:
  legacy_offer_delay: 1500ms
schedule:
  join_policy: dashboard
`)
	cfg, err := load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	require.Len(t, cfg.ICE.Servers, 2)
	assert.Equal(t, "u", cfg.ICE.Servers[1].Username)
	assert.Equal(t, 1500*time.Millisecond, cfg.Negotiation.LegacyOfferDelay)
	assert.Equal(t, "dashboard", cfg.Schedule.JoinPolicy)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "port: 9090\n")
	t.Setenv("CONSULT_PORT", "7000")
	t.Setenv("CONSULT_STORE_DRIVER", "postgres")
	t.Setenv("CONSULT_STORE_DSN", "postgres://localhost/consult")

	cfg, err := load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestFlagsOverrideEverything(t *testing.T) {
	t.Setenv("CONSULT_MEDIA_SOURCE", "hardware")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("media.source", "hardware", "")
	require.NoError(t, fs.Parse([]string{"--media.source=synthetic"}))

	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"), fs)
	require.NoError(t, err)
	assert.Equal(t, "synthetic", cfg.Media.Source)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"bad policy":       "schedule:\n  join_policy: whenever\n",
		"bad port":         "port: 70000\n",
		"postgres no dsn":  "store:\n  driver: postgres\n",
		"empty ice urls":   "ice:\n  servers:\n    - username: x\n",
		"unknown source":   "media:\n  source: tape\n",
		"bad backpressure": "signal:\n  backpressure: ignore\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := load(writeFile(t, body), nil)
			require.Error(t, err)
		})
	}
}

func TestCheckServer(t *testing.T) {
	cfg := &Config{}
	require.ErrorIs(t, cfg.CheckServer(), ErrNoSecret)
	cfg.Auth.Secret = "0123456789abcdef"
	require.NoError(t, cfg.CheckServer())
}

func TestLoadReadsDotEnvAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CONFIG_ENV=staging\nCONSULT_PORT=6001\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.staging.yaml"), []byte("mode: test\nport: 6000\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CONFIG_ENV")
		os.Unsetenv("CONSULT_PORT")
	})
	t.Chdir(dir)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Mode)
	assert.Equal(t, 6001, cfg.Port)
}

func TestLogSetupSwitchesBackToJSON(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	LogConfig{Level: "info", Console: true}.setup(&buf)
	log.Info().Msg("console")
	assert.NotContains(t, buf.String(), `"message":"console"`)

	buf.Reset()
	LogConfig{Level: "info", Console: false}.setup(&buf)
	log.Info().Str("module", "config").Msg("json")
	assert.Contains(t, buf.String(), `"message":"json"`)
	assert.Contains(t, buf.String(), `"module":"config"`)
}
