package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	_ "embed"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"

	"github.com/dotcommander/groksearch/internal/errs"
)

//go:embed config_template.yml
var configTemplate string

// Token store backends.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

// Timeout groups the stream and request deadlines.
type Timeout struct {
	StreamIdle time.Duration `yaml:"stream-idle-timeout" env:"STREAM_IDLE"`
	Request    time.Duration `yaml:"request-timeout" env:"REQUEST"`
}

// MCP configures the tool server.
type MCP struct {
	Model       string `yaml:"model" env:"MODEL"`
	Name        string `yaml:"name" env:"NAME"`
	Listen      string `yaml:"listen" env:"LISTEN"`
	Path        string `yaml:"path" env:"PATH"`
	MetricsPath string `yaml:"metrics-path" env:"METRICS_PATH"`
}

// Upstream configures the chat endpoint used for searches.
type Upstream struct {
	BaseURL   string `yaml:"base-url" env:"BASE_URL"`
	UserAgent string `yaml:"user-agent" env:"USER_AGENT"`
	HTTPProxy string `yaml:"http-proxy" env:"HTTP_PROXY"`
	Temporary bool   `yaml:"temporary" env:"TEMPORARY"`
}

// Redis holds the connection settings of the redis token store.
type Redis struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

// Tokens configures the token pool.
type Tokens struct {
	Store           string        `yaml:"store" env:"STORE"`
	Path            string        `yaml:"path" env:"PATH"`
	ReloadInterval  time.Duration `yaml:"reload-interval" env:"RELOAD_INTERVAL"`
	RefreshSchedule string        `yaml:"refresh-schedule" env:"REFRESH_SCHEDULE"`
	Cooldown        time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	BasicQuota      int           `yaml:"basic-quota" env:"BASIC_QUOTA"`
	SuperQuota      int           `yaml:"super-quota" env:"SUPER_QUOTA"`
	TokenCmd        string        `yaml:"token-cmd" env:"CMD"`
	Redis           Redis         `yaml:"redis" envPrefix:"REDIS_"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Model overrides or adds an entry of the model registry.
type Model struct {
	UpstreamModel string   `yaml:"upstream-model"`
	Mode          string   `yaml:"mode"`
	Tier          string   `yaml:"tier"`
	Aliases       []string `yaml:"aliases"`
}

// Settings holds persisted configuration loaded from the YAML settings file
// and environment variables.
type Settings struct {
	Timeout  Timeout          `yaml:"timeout" envPrefix:"TIMEOUT_"`
	MCP      MCP              `yaml:"mcp" envPrefix:"MCP_"`
	Upstream Upstream         `yaml:"upstream" envPrefix:"UPSTREAM_"`
	Tokens   Tokens           `yaml:"tokens" envPrefix:"TOKENS_"`
	Log      Log              `yaml:"log" envPrefix:"LOG_"`
	Models   map[string]Model `yaml:"models"`
	Quiet    bool             `yaml:"quiet" env:"QUIET"`
	WordWrap int              `yaml:"word-wrap" env:"WORD_WRAP"`
}

// Runtime holds CLI/runtime-only options that should not be loaded from the
// settings file.
type Runtime struct {
	SettingsPath string
	Raw          bool
	Copy         bool
	Stdio        bool
	Pool         string
	Note         string
	UnusedFor    time.Duration
	ProbeURL     string
}

// Config is the application configuration (settings + runtime-only options).
//
// Settings fields are promoted for ergonomic access, but runtime fields are
// explicitly excluded from YAML/env parsing.
type Config struct {
	Settings `yaml:",inline"`
	Runtime  `yaml:"-" env:"-"`
}

// Ensure loads settings from the default location, creating the settings file
// from the embedded template when it does not exist yet.
func Ensure() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Default(), errs.Error{Err: err, Reason: "Could not determine home directory."}
	}
	sp := filepath.Join(home, ".config", "groksearch", "groksearch.yml")
	if err := os.MkdirAll(filepath.Dir(sp), 0o700); err != nil {
		c := Default()
		c.SettingsPath = sp
		return c, errs.Error{Err: err, Reason: "Could not create config directory."}
	}
	if err := WriteConfigFile(sp); err != nil {
		c := Default()
		c.SettingsPath = sp
		return c, err
	}
	return Load(sp)
}

// Load reads the settings file at path, overlays GROKSEARCH_* environment
// variables and fills in defaults for anything left unset.
func Load(path string) (Config, error) {
	var c Config
	c.SettingsPath = path

	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c, errs.Error{Err: err, Reason: "Could not read settings file."}
	}
	if err := yaml.Unmarshal(content, &c); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not parse settings file."}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "GROKSEARCH_"}); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not parse environment into settings."}
	}

	applyDefaults(&c)
	return c, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Timeout.StreamIdle <= 0 {
		c.Timeout.StreamIdle = d.Timeout.StreamIdle
	}
	if c.Timeout.Request <= 0 {
		c.Timeout.Request = d.Timeout.Request
	}
	if c.MCP.Model == "" {
		c.MCP.Model = d.MCP.Model
	}
	if c.MCP.Name == "" {
		c.MCP.Name = d.MCP.Name
	}
	if c.MCP.Listen == "" {
		c.MCP.Listen = d.MCP.Listen
	}
	if c.MCP.Path == "" {
		c.MCP.Path = d.MCP.Path
	}
	if c.MCP.MetricsPath == "" {
		c.MCP.MetricsPath = d.MCP.MetricsPath
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = d.Upstream.BaseURL
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = d.Upstream.UserAgent
	}
	if c.Tokens.Store == "" {
		c.Tokens.Store = d.Tokens.Store
	}
	if c.Tokens.Path == "" {
		c.Tokens.Path = filepath.Join(filepath.Dir(c.SettingsPath), "tokens")
	}
	if c.Tokens.ReloadInterval <= 0 {
		c.Tokens.ReloadInterval = d.Tokens.ReloadInterval
	}
	if c.Tokens.RefreshSchedule == "" {
		c.Tokens.RefreshSchedule = d.Tokens.RefreshSchedule
	}
	if c.Tokens.Cooldown <= 0 {
		c.Tokens.Cooldown = d.Tokens.Cooldown
	}
	if c.Tokens.BasicQuota <= 0 {
		c.Tokens.BasicQuota = d.Tokens.BasicQuota
	}
	if c.Tokens.SuperQuota <= 0 {
		c.Tokens.SuperQuota = d.Tokens.SuperQuota
	}
	if c.Tokens.Redis.Prefix == "" {
		c.Tokens.Redis.Prefix = d.Tokens.Redis.Prefix
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.WordWrap == 0 {
		c.WordWrap = d.WordWrap
	}
}

// WriteConfigFile creates the config file at path if it does not exist.
func WriteConfigFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return createConfigFile(path)
	} else if err != nil {
		return errs.Error{Err: err, Reason: "Could not stat path."}
	}
	return nil
}

func createConfigFile(path string) error {
	tmpl := template.Must(template.New("config").Parse(configTemplate))

	f, err := os.Create(path)
	if err != nil {
		return errs.Error{Err: err, Reason: "Could not create configuration file."}
	}
	defer func() { _ = f.Close() }()

	m := struct{ Config Config }{Config: Default()}
	if err := tmpl.Execute(f, m); err != nil {
		return errs.Error{Err: err, Reason: "Could not render template."}
	}
	return nil
}

// Validate reports settings that cannot work at runtime.
func (c Config) Validate() error {
	switch c.Tokens.Store {
	case StoreFile, StoreRedis:
	default:
		return errs.Error{
			Err:    fmt.Errorf("unsupported token store %q, supported stores are: %s, %s", c.Tokens.Store, StoreFile, StoreRedis),
			Reason: "Invalid tokens.store setting.",
		}
	}
	if c.Tokens.Store == StoreRedis && c.Tokens.Redis.Addr == "" {
		return errs.Error{
			Err:    errs.UserErrorf("set tokens.redis.addr or GROKSEARCH_TOKENS_REDIS_ADDR"),
			Reason: "The redis token store needs an address.",
		}
	}
	return nil
}

// Default returns the default configuration values.
func Default() Config {
	return Config{
		Settings: Settings{
			Timeout: Timeout{
				StreamIdle: 45 * time.Second,
				Request:    120 * time.Second,
			},
			MCP: MCP{
				Model:       "grok-3",
				Name:        "grok-web-search",
				Listen:      "127.0.0.1:8000",
				Path:        "/",
				MetricsPath: "/metrics",
			},
			Upstream: Upstream{
				BaseURL:   "https://grok.com",
				UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
				Temporary: true,
			},
			Tokens: Tokens{
				Store:           StoreFile,
				ReloadInterval:  30 * time.Second,
				RefreshSchedule: "@every 10m",
				Cooldown:        2 * time.Hour,
				BasicQuota:      80,
				SuperQuota:      140,
				Redis:           Redis{Prefix: "groksearch"},
			},
			Log:      Log{Level: "info"},
			WordWrap: 80,
		},
	}
}
