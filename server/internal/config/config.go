package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Client   ClientConfig   `yaml:"client"`
	Messages MessagesConfig `yaml:"messages"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AllowedOrigins 为空时不下发 CORS 头。
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BackendConfig 模拟后端配置
type BackendConfig struct {
	// Seed 是初始数据（JSON 数组）路径，可为空。
	Seed string `yaml:"seed"`
	// FirstID 是空集合时分配的第一个 id。
	FirstID int `yaml:"first_id"`
	// Delay 模拟网络延迟。
	Delay       time.Duration     `yaml:"delay"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// PersistenceConfig 快照持久化配置；Driver 为空表示纯内存。
type PersistenceConfig struct {
	Driver string `yaml:"driver"` // "", "sqlite" or "pgx"
	DSN    string `yaml:"dsn"`
}

// ClientConfig Record Store 客户端配置
type ClientConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	ErrorPolicy string        `yaml:"error_policy"` // "swallow" or "propagate"
}

type MessagesConfig struct {
	Capacity int `yaml:"capacity"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default 返回不依赖配置文件即可运行的默认配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Backend: BackendConfig{
			FirstID: 11,
		},
		Client: ClientConfig{
			BaseURL:     "http://127.0.0.1:8080/api",
			Timeout:     10 * time.Second,
			ErrorPolicy: "swallow",
		},
		Messages: MessagesConfig{Capacity: 100},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load 从文件加载配置，未出现的字段保留 Default 中的值。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv 用环境变量覆盖配置。
func (c *Config) ApplyEnv() {
	if baseURL := os.Getenv("TXTOUR_BASE_URL"); baseURL != "" {
		c.Client.BaseURL = baseURL
	}
	if dsn := os.Getenv("TXTOUR_DSN"); dsn != "" {
		c.Backend.Persistence.DSN = dsn
	}
	if level := os.Getenv("TXTOUR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Client.BaseURL == "" {
		return fmt.Errorf("client base_url is required")
	}
	switch strings.ToLower(c.Client.ErrorPolicy) {
	case "", "swallow", "propagate":
	default:
		return fmt.Errorf("invalid error_policy %q: must be swallow or propagate", c.Client.ErrorPolicy)
	}
	switch c.Backend.Persistence.Driver {
	case "":
	case "sqlite", "pgx":
		if c.Backend.Persistence.DSN == "" && c.Backend.Persistence.Driver == "pgx" {
			return fmt.Errorf("persistence dsn is required for driver pgx")
		}
	default:
		return fmt.Errorf("unsupported persistence driver: %s", c.Backend.Persistence.Driver)
	}
	if c.Backend.FirstID <= 0 {
		return fmt.Errorf("backend first_id must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}
