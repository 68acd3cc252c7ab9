package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultConfigPath   = "config.json"
	DefaultSystemPrompt = "You are a chatbot designed to provide information and assistance."
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Redis       RedisConfig               `json:"redis"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Archive     ArchiveConfig             `json:"archive"`
	Log         LogConfig                 `json:"log"`
}

type ProviderConfig struct {
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	APIKey     string `json:"api_key"`
	ImageModel string `json:"image_model"`
}

type BasicConfig struct {
	ServerAddress       string  `json:"server_address"`
	SystemPrompt        string  `json:"system_prompt"`
	ChatProvider        string  `json:"chat_provider"`
	ImageProvider       string  `json:"image_provider"`
	Temperature         float32 `json:"temperature"`
	ImageSize           string  `json:"image_size"`
	ChatTimeoutSeconds  int     `json:"chat_timeout_seconds"`
	ImageTimeoutSeconds int     `json:"image_timeout_seconds"`
	CookieSecret        string  `json:"cookie_secret"`
	MinWorkers          int     `json:"min_workers"`
	MaxWorkers          int     `json:"max_workers"`
	QueueSize           int     `json:"queue_size"`
	WorkerIdleTimeout   int     `json:"worker_idle_timeout"` // minutes
}

type RedisConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLMinutes int    `json:"ttl_minutes"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

// ArchiveConfig selects the database (a key of Databases) that records committed turns.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; built-in defaults are used instead.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for name, dbCfg := range cfg.Databases {
		if isSQLite(name) && dbCfg.DSN != "" && dbCfg.DSN != ":memory:" &&
			!strings.HasPrefix(dbCfg.DSN, "file:") && !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[name] = dbCfg
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	if c.BasicConfig.Temperature < 0 || c.BasicConfig.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %v", c.BasicConfig.Temperature)
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		return fmt.Errorf("max_workers (%d) must not be below min_workers (%d)", c.BasicConfig.MaxWorkers, c.BasicConfig.MinWorkers)
	}
	if _, ok := c.Providers[c.BasicConfig.ChatProvider]; !ok {
		return fmt.Errorf("chat provider %s not configured", c.BasicConfig.ChatProvider)
	}
	if c.Archive.Enabled {
		if _, ok := c.Databases[c.Archive.Driver]; !ok {
			return fmt.Errorf("database config for archive driver %s not found", c.Archive.Driver)
		}
	}
	return nil
}

// Provider returns the named provider block.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8000"
	}
	if strings.TrimSpace(b.SystemPrompt) == "" {
		b.SystemPrompt = DefaultSystemPrompt
	}
	if b.ChatProvider == "" {
		b.ChatProvider = "openai"
	}
	if b.ImageProvider == "" {
		b.ImageProvider = "openai"
	}
	if b.Temperature == 0 {
		b.Temperature = 0.6
	}
	if b.ImageSize == "" {
		b.ImageSize = "256x256"
	}
	if b.ChatTimeoutSeconds <= 0 {
		b.ChatTimeoutSeconds = 120
	}
	if b.ImageTimeoutSeconds <= 0 {
		b.ImageTimeoutSeconds = 60
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 16
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 5
	}

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if _, ok := c.Providers["openai"]; !ok {
		c.Providers["openai"] = ProviderConfig{}
	}
	if p := c.Providers["openai"]; p.Model == "" || p.ImageModel == "" {
		if p.Model == "" {
			p.Model = "gpt-3.5-turbo"
		}
		if p.ImageModel == "" {
			p.ImageModel = "dall-e-2"
		}
		c.Providers["openai"] = p
	}

	if c.Redis.TTLMinutes <= 0 {
		c.Redis.TTLMinutes = 24 * 60
	}
	if c.Archive.Driver == "" {
		c.Archive.Driver = "sqlite3"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// applyEnv lets the environment (and .env) supply secrets and the listen address.
func (c *Config) applyEnv() {
	if addr := os.Getenv("CHATRELAY_ADDR"); addr != "" {
		c.BasicConfig.ServerAddress = addr
	}
	if secret := os.Getenv("CHATRELAY_COOKIE_SECRET"); secret != "" {
		c.BasicConfig.CookieSecret = secret
	}
	keys := map[string][]string{
		"openai": {"OPENAI_API_SECRET_KEY", "OPENAI_API_KEY"},
		"claude": {"ANTHROPIC_API_KEY"},
		"gemini": {"GEMINI_API_KEY"},
	}
	for provider, envs := range keys {
		p, ok := c.Providers[provider]
		if !ok || p.APIKey != "" {
			continue
		}
		for _, env := range envs {
			if v := os.Getenv(env); v != "" {
				p.APIKey = v
				break
			}
		}
		c.Providers[provider] = p
	}
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
