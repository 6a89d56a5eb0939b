package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/viper"
)

// Config holds all recall configuration.
type Config struct {
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `toml:"database" mapstructure:"database"`
	Index      IndexConfig      `toml:"index" mapstructure:"index"`
	LLM        LLMConfig        `toml:"llm" mapstructure:"llm"`
	Engine     EngineConfig     `toml:"engine" mapstructure:"engine"`
	Classifier ClassifierConfig `toml:"classifier" mapstructure:"classifier"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Bind string `toml:"bind" mapstructure:"bind"`
	Port int    `toml:"port" mapstructure:"port"`
}

type DatabaseConfig struct {
	Backend  string `toml:"backend" mapstructure:"backend"` // "sqlite", "postgres"
	Path     string `toml:"path" mapstructure:"path"`       // sqlite file, resolved via store.DefaultDBPath() when empty
	Name     string `toml:"name" mapstructure:"name"`
	User     string `toml:"user" mapstructure:"user"`
	Password string `toml:"password" mapstructure:"password"`
	Host     string `toml:"host" mapstructure:"host"`
	Port     int    `toml:"port" mapstructure:"port"`
}

type IndexConfig struct {
	Backend string `toml:"backend" mapstructure:"backend"` // "chromem", "sqlite"
	Path    string `toml:"path" mapstructure:"path"`       // chromem persistence dir
}

type LLMConfig struct {
	Provider       string `toml:"provider" mapstructure:"provider"` // "ollama", "anthropic", "gemini", "claude-cli", "mock"
	Model          string `toml:"model" mapstructure:"model"`       // empty = provider default
	Embedder       string `toml:"embedder" mapstructure:"embedder"` // "ollama", "gemini", "hash"
	EmbeddingModel string `toml:"embedding_model" mapstructure:"embedding_model"`
	OllamaURL      string `toml:"ollama_url" mapstructure:"ollama_url"`
	AnthropicKey   string `toml:"anthropic_key" mapstructure:"anthropic_key"`
	GeminiKey      string `toml:"gemini_key" mapstructure:"gemini_key"`
}

type EngineConfig struct {
	K             int           `toml:"k" mapstructure:"k"`
	CallTimeout   time.Duration `toml:"call_timeout" mapstructure:"call_timeout"`     // embed, index, decompose, classify
	StreamTimeout time.Duration `toml:"stream_timeout" mapstructure:"stream_timeout"` // whole streamed answer
}

type ClassifierConfig struct {
	CacheSize int64 `toml:"cache_size" mapstructure:"cache_size"` // 0 disables the verdict cache
}

type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Backend: "sqlite",
			Host:    "localhost",
			Port:    5432,
		},
		Index: IndexConfig{
			Backend: "chromem",
		},
		LLM: LLMConfig{
			Provider:  "ollama",
			Embedder:  "ollama",
			OllamaURL: "http://localhost:11434",
		},
		Engine: EngineConfig{
			K:             2,
			CallTimeout:   60 * time.Second,
			StreamTimeout: 5 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file path: ~/.recall/config.toml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", goerr.Wrap(err, "get home dir")
	}
	return filepath.Join(home, ".recall", "config.toml"), nil
}

// Load reads configuration from defaults, an optional TOML file, a .env file in the
// working directory, and RECALL_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, goerr.Wrap(err, "load .env")
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("RECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, goerr.Wrap(err, "read config", goerr.V("path", path))
			}
		} else if !os.IsNotExist(err) {
			return Config{}, goerr.Wrap(err, "stat config", goerr.V("path", path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, goerr.Wrap(err, "decode config")
	}

	applyLegacyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("database.backend", d.Database.Backend)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.name", d.Database.Name)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("index.backend", d.Index.Backend)
	v.SetDefault("index.path", d.Index.Path)
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.embedder", d.LLM.Embedder)
	v.SetDefault("llm.embedding_model", d.LLM.EmbeddingModel)
	v.SetDefault("llm.ollama_url", d.LLM.OllamaURL)
	v.SetDefault("llm.anthropic_key", d.LLM.AnthropicKey)
	v.SetDefault("llm.gemini_key", d.LLM.GeminiKey)
	v.SetDefault("engine.k", d.Engine.K)
	v.SetDefault("engine.call_timeout", d.Engine.CallTimeout)
	v.SetDefault("engine.stream_timeout", d.Engine.StreamTimeout)
	v.SetDefault("classifier.cache_size", d.Classifier.CacheSize)
	v.SetDefault("log.level", d.Log.Level)
}

// applyLegacyEnv fills unset fields from the unprefixed variables the
// assistant has always read: DB_* for postgres and the provider API keys.
func applyLegacyEnv(cfg *Config) {
	db := &cfg.Database
	if s := os.Getenv("DB_NAME"); s != "" && db.Name == "" {
		db.Name = s
	}
	if s := os.Getenv("DB_USER"); s != "" && db.User == "" {
		db.User = s
	}
	if s := os.Getenv("DB_PASSWORD"); s != "" && db.Password == "" {
		db.Password = s
	}
	if s := os.Getenv("DB_HOST"); s != "" && os.Getenv("RECALL_DATABASE_HOST") == "" {
		db.Host = s
	}
	if s := os.Getenv("DB_PORT"); s != "" && os.Getenv("RECALL_DATABASE_PORT") == "" {
		if port, err := strconv.Atoi(s); err == nil {
			db.Port = port
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.LLM.AnthropicKey == "" {
		cfg.LLM.AnthropicKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.LLM.GeminiKey == "" {
		cfg.LLM.GeminiKey = key
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "sqlite":
	case "postgres":
		if c.Database.Name == "" {
			return goerr.New("postgres backend requires database name (DB_NAME)")
		}
	default:
		return goerr.New("unknown database backend", goerr.V("backend", c.Database.Backend))
	}

	switch c.Index.Backend {
	case "chromem", "sqlite":
	default:
		return goerr.New("unknown index backend", goerr.V("backend", c.Index.Backend))
	}

	switch c.LLM.Provider {
	case "ollama", "anthropic", "gemini", "claude-cli", "mock":
	default:
		return goerr.New("unknown LLM provider", goerr.V("provider", c.LLM.Provider))
	}

	switch c.LLM.Embedder {
	case "ollama", "gemini", "hash":
	default:
		return goerr.New("unknown embedder", goerr.V("embedder", c.LLM.Embedder))
	}

	if c.Engine.K <= 0 {
		return goerr.New("engine.k must be positive", goerr.V("k", c.Engine.K))
	}
	if c.Engine.CallTimeout <= 0 {
		return goerr.New("engine.call_timeout must be positive", goerr.V("call_timeout", c.Engine.CallTimeout))
	}
	if c.Engine.StreamTimeout <= 0 {
		return goerr.New("engine.stream_timeout must be positive", goerr.V("stream_timeout", c.Engine.StreamTimeout))
	}
	if c.Classifier.CacheSize < 0 {
		return goerr.New("classifier.cache_size must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return goerr.New("invalid server port", goerr.V("port", c.Server.Port))
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// PostgresDSN returns a connection URL for the postgres backend.
func (d DatabaseConfig) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	return u.String()
}
