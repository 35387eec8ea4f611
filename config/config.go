package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 服务配置: 默认值 -> YAML 文件 -> 环境变量
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`

	// 表计表为空时导入的种子数据
	SeedFile string `yaml:"seed_file"`
}

// ServerConfig HTTP 服务
type ServerConfig struct {
	Port      string `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
	// 上传图片的大小上限 (字节)
	MaxImageBytes int64 `yaml:"max_image_bytes"`
}

// DatabaseConfig PostgreSQL 连接
type DatabaseConfig struct {
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name"`
	TimeZone   string `yaml:"time_zone"`
	MaxRetries int    `yaml:"max_retries"`
	RetryDelay string `yaml:"retry_delay"`
}

// AuthConfig JWT 与初始管理员
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTL      string `yaml:"token_ttl"`
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
}

// LoggingConfig 日志
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			StaticDir:     "./static",
			MaxImageBytes: 10 << 20,
		},
		Database: DatabaseConfig{
			Host:       "localhost",
			Port:       "5432",
			User:       "oed",
			Password:   "oedpassword",
			Name:       "oed",
			TimeZone:   "UTC",
			MaxRetries: 30,
			RetryDelay: "2s",
		},
		Auth: AuthConfig{
			JWTSecret:     "your-secret-key-change-in-production",
			TokenTTL:      "24h",
			AdminUsername: "admin",
			AdminPassword: "admin123",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		SeedFile: "seed_data.json",
	}
}

// Load 读取配置; path 为空时只用默认值和环境变量
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides 环境变量优先 (为了 Docker 部署方便)
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnvOrDefault("PORT", c.Server.Port)
	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvOrDefault("DB_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnvOrDefault("DB_NAME", c.Database.Name)
	c.Auth.JWTSecret = getEnvOrDefault("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.AdminPassword = getEnvOrDefault("ADMIN_PASSWORD", c.Auth.AdminPassword)
	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.SeedFile = getEnvOrDefault("SEED_FILE", c.SeedFile)
	if v := os.Getenv("DB_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Database.MaxRetries = n
		}
	}
}

// Validate 检查配置
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret 不能为空")
	}
	if _, err := c.TokenTTL(); err != nil {
		return err
	}
	if _, err := c.RetryDelay(); err != nil {
		return err
	}
	if c.Server.MaxImageBytes <= 0 {
		return fmt.Errorf("max_image_bytes 必须为正数")
	}
	return nil
}

// TokenTTL JWT 有效期
func (c *Config) TokenTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("无效的 token_ttl %q: %w", c.Auth.TokenTTL, err)
	}
	return d, nil
}

// RetryDelay 数据库重连间隔
func (c *Config) RetryDelay() (time.Duration, error) {
	d, err := time.ParseDuration(c.Database.RetryDelay)
	if err != nil {
		return 0, fmt.Errorf("无效的 retry_delay %q: %w", c.Database.RetryDelay, err)
	}
	return d, nil
}

// DSN PostgreSQL 连接串
func (c *Config) DSN() string {
	d := c.Database
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.TimeZone,
	)
}

// getEnvOrDefault 获取环境变量，如果不存在则返回默认值
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
