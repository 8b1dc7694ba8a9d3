package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment variable overrides, e.g.
// CHATSYNC_POLL_ATTEMPTS=10 sets poll.attempts.
const EnvPrefix = "CHATSYNC_"

// Config represents the application configuration
type Config struct {
	Remote struct {
		BaseURL   string        `koanf:"base_url"`
		Token     string        `koanf:"token"`
		Model     string        `koanf:"model"`
		Timeout   time.Duration `koanf:"timeout"`
		RateLimit float64       `koanf:"rate_limit"`
	} `koanf:"remote"`

	Poll struct {
		Attempts int           `koanf:"attempts"`
		Interval time.Duration `koanf:"interval"`
	} `koanf:"poll"`

	Completion struct {
		Title           string          `koanf:"title"`
		Features        map[string]bool `koanf:"features"`
		BackgroundTasks map[string]bool `koanf:"background_tasks"`
	} `koanf:"completion"`

	Probe struct {
		Enabled bool   `koanf:"enabled"`
		Message string `koanf:"message"`
	} `koanf:"probe"`

	Output struct {
		Dir  string `koanf:"dir"`
		Save bool   `koanf:"save"`
	} `koanf:"output"`

	Logging struct {
		Dir     string `koanf:"dir"`
		Verbose bool   `koanf:"verbose"`
	} `koanf:"logging"`
}

// LoadOptions selects the sources Load reads besides the defaults.
type LoadOptions struct {
	ConfigPath string                 // TOML file; empty searches the default locations
	EnvFile    string                 // .env file; empty tries ./.env
	Overrides  map[string]interface{} // flat koanf keys from command-line flags
}

// DefaultPaths are searched in order when no config file is given.
var DefaultPaths = []string{"./chatsync.toml", "$HOME/.chatsync.toml"}

// envFileKeys maps the plain .env keys to config keys.
var envFileKeys = map[string]string{
	"BASE":  "remote.base_url",
	"TOKEN": "remote.token",
	"MODEL": "remote.model",
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"remote.timeout":    "30s",
		"remote.rate_limit": 5.0,
		"poll.attempts":     30,
		"poll.interval":     "2s",
		"probe.enabled":     true,
		"probe.message":     "Thanks! One more test.",
		"output.dir":        ".",
		"output.save":       true,
		"logging.dir":       "run_logs",
		"logging.verbose":   false,
	}
}

// LoadConfig loads the configuration from defaults, a TOML file, a .env
// file, CHATSYNC_ environment variables and flag overrides, later layers
// winning.
func LoadConfig(opts LoadOptions) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if opts.ConfigPath != "" {
		if err := k.Load(file.Provider(opts.ConfigPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, path := range DefaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
					return nil, fmt.Errorf("error loading config %s: %w", path, err)
				}
				break
			}
		}
	}

	envValues, err := readEnvFile(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	if len(envValues) > 0 {
		if err := k.Load(confmap.Provider(envValues, "."), nil); err != nil {
			return nil, fmt.Errorf("error loading env file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("error loading overrides: %w", err)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	config.Remote.BaseURL = strings.TrimRight(config.Remote.BaseURL, "/")
	return &config, nil
}

// envKey turns CHATSYNC_REMOTE_BASE_URL into remote.base_url: the first
// segment names the section, the rest is the key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, found := strings.Cut(s, "_")
	if !found {
		return section
	}
	return section + "." + key
}

// readEnvFile reads BASE, TOKEN and MODEL (and any CHATSYNC_ keys) from a
// .env file without touching the process environment. A missing default
// file is not an error; a missing explicit one is.
func readEnvFile(path string) (map[string]interface{}, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading env file %s: %w", path, err)
	}

	out := make(map[string]interface{})
	for name, value := range values {
		if key, ok := envFileKeys[name]; ok {
			out[key] = value
			continue
		}
		if strings.HasPrefix(name, EnvPrefix) {
			out[envKey(name)] = value
		}
	}
	return out, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# chatsync configuration

[remote]
base_url = "http://localhost:3000"
token = "your-api-key"
model = "gemma3:4b"
timeout = "30s"
rate_limit = 5.0

[poll]
attempts = 30
interval = "2s"

[completion.features]
code_interpreter = false
web_search = false
image_generation = false
memory = false

[completion.background_tasks]
title_generation = false
tags_generation = false
follow_up_generation = false

[probe]
enabled = true
message = "Thanks! One more test."

[output]
dir = "."
save = true

[logging]
dir = "run_logs"
verbose = false
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	return validateAt(config, time.Now())
}

func validateAt(config *Config, now time.Time) error {
	if config.Remote.BaseURL == "" {
		return fmt.Errorf("remote base_url is required (BASE in .env)")
	}
	u, err := url.Parse(config.Remote.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("remote base_url %q is not an http(s) URL", config.Remote.BaseURL)
	}
	if config.Remote.Token == "" {
		return fmt.Errorf("remote token is required (TOKEN in .env)")
	}
	if config.Remote.Model == "" {
		return fmt.Errorf("remote model is required (MODEL in .env)")
	}
	if config.Poll.Attempts <= 0 {
		return fmt.Errorf("poll attempts must be positive, got %d", config.Poll.Attempts)
	}
	if config.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", config.Poll.Interval)
	}
	if exp, ok := tokenExpiry(config.Remote.Token); ok && !exp.After(now) {
		return fmt.Errorf("remote token expired at %s", exp.Format(time.RFC3339))
	}
	return nil
}

// tokenExpiry reads the exp claim of a JWT bearer token without verifying
// its signature. Opaque API keys report ok=false.
func tokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Masked returns the effective settings with secrets masked, for display.
func (c *Config) Masked() map[string]string {
	return map[string]string{
		"remote.base_url": c.Remote.BaseURL,
		"remote.token":    MaskSecret(c.Remote.Token),
		"remote.model":    c.Remote.Model,
		"poll.attempts":   fmt.Sprintf("%d", c.Poll.Attempts),
		"poll.interval":   c.Poll.Interval.String(),
		"output.dir":      c.Output.Dir,
		"logging.dir":     c.Logging.Dir,
	}
}

// MaskSecret masks a secret value for display, showing only first and last 2 chars
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
