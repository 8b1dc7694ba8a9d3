package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := LoadConfig(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Poll.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 5.0, cfg.Remote.RateLimit)
	assert.True(t, cfg.Probe.Enabled)
	assert.Equal(t, "Thanks! One more test.", cfg.Probe.Message)
	assert.True(t, cfg.Output.Save)
	assert.Equal(t, "run_logs", cfg.Logging.Dir)
}

func TestLoadConfig_LayerOrder(t *testing.T) {
	dir := isolate(t)

	configPath := filepath.Join(dir, "custom.toml")
	writeFile(t, configPath, `
[remote]
base_url = "http://from-toml:3000/"
model = "toml-model"

[poll]
attempts = 10
interval = "500ms"

[completion.features]
web_search = true
`)
	envPath := filepath.Join(dir, "test.env")
	writeFile(t, envPath, "BASE=http://from-env-file:8080\nTOKEN=sk-from-env-file\nCHATSYNC_PROBE_MESSAGE=ping again\nUNRELATED=1\n")
	t.Setenv("CHATSYNC_POLL_ATTEMPTS", "12")

	cfg, err := LoadConfig(LoadOptions{
		ConfigPath: configPath,
		EnvFile:    envPath,
		Overrides:  map[string]interface{}{"remote.model": "flag-model"},
	})
	require.NoError(t, err)

	assert.Equal(t, "http://from-env-file:8080", cfg.Remote.BaseURL)
	assert.Equal(t, "sk-from-env-file", cfg.Remote.Token)
	assert.Equal(t, "flag-model", cfg.Remote.Model)
	assert.Equal(t, 12, cfg.Poll.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, "ping again", cfg.Probe.Message)
	assert.True(t, cfg.Completion.Features["web_search"])

	_, set := os.LookupEnv("TOKEN")
	assert.False(t, set, ".env values must not leak into the process environment")
}

func TestLoadConfig_DefaultLocations(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "chatsync.toml"), "[remote]\nbase_url = \"http://local:3000\"\n")
	writeFile(t, filepath.Join(dir, ".env"), "MODEL=dotenv-model\n")

	cfg, err := LoadConfig(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "http://local:3000", cfg.Remote.BaseURL)
	assert.Equal(t, "dotenv-model", cfg.Remote.Model)
}

func TestLoadConfig_MissingExplicitFiles(t *testing.T) {
	dir := isolate(t)
	_, err := LoadConfig(LoadOptions{ConfigPath: filepath.Join(dir, "nope.toml")})
	require.Error(t, err)

	_, err = LoadConfig(LoadOptions{EnvFile: filepath.Join(dir, "nope.env")})
	require.Error(t, err)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Remote.BaseURL = "http://localhost:3000"
	cfg.Remote.Token = "sk-1234567890"
	cfg.Remote.Model = "gemma3:4b"
	cfg.Poll.Attempts = 30
	cfg.Poll.Interval = 2 * time.Second
	return cfg
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing base", mutate: func(c *Config) { c.Remote.BaseURL = "" }, wantErr: "base_url is required"},
		{name: "bad scheme", mutate: func(c *Config) { c.Remote.BaseURL = "ftp://host" }, wantErr: "not an http(s) URL"},
		{name: "missing token", mutate: func(c *Config) { c.Remote.Token = "" }, wantErr: "token is required"},
		{name: "missing model", mutate: func(c *Config) { c.Remote.Model = "" }, wantErr: "model is required"},
		{name: "zero attempts", mutate: func(c *Config) { c.Poll.Attempts = 0 }, wantErr: "attempts must be positive"},
		{name: "zero interval", mutate: func(c *Config) { c.Poll.Interval = 0 }, wantErr: "interval must be positive"},
		{
			name: "expired jwt",
			mutate: func(c *Config) {
				c.Remote.Token = signed(t, jwt.MapClaims{"id": "user", "exp": now.Add(-time.Hour).Unix()})
			},
			wantErr: "token expired",
		},
		{
			name: "live jwt",
			mutate: func(c *Config) {
				c.Remote.Token = signed(t, jwt.MapClaims{"id": "user", "exp": now.Add(time.Hour).Unix()})
			},
		},
		{
			name: "jwt without exp",
			mutate: func(c *Config) {
				c.Remote.Token = signed(t, jwt.MapClaims{"id": "user"})
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := validateAt(cfg, now)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestInitConfig(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "chatsync.toml")
	require.NoError(t, InitConfig(path))
	require.Error(t, InitConfig(path))

	cfg, err := LoadConfig(LoadOptions{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "gemma3:4b", cfg.Remote.Model)
	assert.Equal(t, false, cfg.Completion.BackgroundTasks["title_generation"])
	require.NoError(t, Validate(cfg))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("short"))
	assert.Equal(t, "sk****yz", MaskSecret("sk-abcdefxyz"))
}
