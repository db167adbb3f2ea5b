// 包 config：进程配置（环境变量）与城市配置（JSON 文件）的加载与校验
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 文档注释：进程级配置
// 背景：所有键均来自环境变量（可由 .env 预先注入），未设置时使用默认值。
type Config struct {
	Server   ServerConfig
	City     CityFiles
	Boundary BoundaryConfig
	Gate     GateConfig
	Locate   LocateConfig
	Submit   SubmitConfig
	Cache    CacheConfig
	Session  SessionConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Limit    RateLimitConfig
}

type ServerConfig struct {
	Addr                    string
	APIBase                 string
	CORSOrigins             []string
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	GracefulShutdownTimeout time.Duration
}

type CityFiles struct {
	ConfigPath string
	EmailPath  string
}

type BoundaryConfig struct {
	Root    string
	Timeout time.Duration
	Warm    bool

	// 每周定时重新获取边界
	Refresh        bool
	RefreshWeekday string
	RefreshHour    int
	RefreshTZ      string
}

type GateConfig struct {
	Layer         string
	FailurePolicy string
}

type LocateConfig struct {
	DeviceTimeout time.Duration
}

type SubmitConfig struct {
	Timeout time.Duration
}

type CacheConfig struct {
	Size     int
	TTL      time.Duration
	RedisTTL time.Duration
}

type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	MaxImageBytes int64
}

type DatabaseConfig struct {
	Enabled bool
}

type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

type RateLimitConfig struct {
	Enabled bool
	QPS     float64
	Burst   int
}

// Load：从环境变量读取配置并校验
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:                    getEnv("ADDR", ":8080"),
			APIBase:                 getEnv("API_BASE", "/api"),
			CORSOrigins:             getEnvList("CORS_ORIGINS", []string{"*"}),
			ReadTimeout:             getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:            getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			GracefulShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		City: CityFiles{
			ConfigPath: getEnv("CITY_CONFIG", "config/cities/blr.json"),
			EmailPath:  getEnv("EMAIL_CONFIG", ""),
		},
		Boundary: BoundaryConfig{
			Root:    getEnv("BOUNDARY_ROOT", "."),
			Timeout: getEnvDuration("BOUNDARY_TIMEOUT", 30*time.Second),
			Warm:    getEnvBool("BOUNDARY_WARM", true),

			Refresh:        getEnvBool("BOUNDARY_REFRESH", false),
			RefreshWeekday: getEnv("BOUNDARY_REFRESH_WEEKDAY", "monday"),
			RefreshHour:    getEnvInt("BOUNDARY_REFRESH_HOUR", 3),
			RefreshTZ:      getEnv("BOUNDARY_REFRESH_TZ", "Asia/Kolkata"),
		},
		Gate: GateConfig{
			Layer:         getEnv("GATE_LAYER", "corporation"),
			FailurePolicy: getEnv("GATE_FAILURE_POLICY", "closed"),
		},
		Locate: LocateConfig{
			DeviceTimeout: getEnvDuration("DEVICE_LOCATION_TIMEOUT", 8*time.Second),
		},
		Submit: SubmitConfig{
			Timeout: getEnvDuration("SUBMIT_TIMEOUT", 45*time.Second),
		},
		Cache: CacheConfig{
			Size:     getEnvInt("RESOLVE_CACHE_SIZE", 4096),
			TTL:      time.Duration(getEnvInt("RESOLVE_CACHE_TTL_S", 600)) * time.Second,
			RedisTTL: time.Duration(getEnvInt("RESOLVE_REDIS_TTL_S", 3600)) * time.Second,
		},
		Session: SessionConfig{
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
			MaxImageBytes: int64(getEnvInt("MAX_IMAGE_MB", 15)) << 20,
		},
		Database: DatabaseConfig{
			Enabled: getEnvBool("DB_ENABLE", false),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", ""),
			MaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
			ConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 5*time.Second),
		},
		Limit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", false),
			QPS:     getEnvFloat("RATE_LIMIT_QPS", 200),
			Burst:   getEnvInt("RATE_LIMIT_BURST", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate：检查取值范围
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("ADDR must not be empty")
	}
	if !strings.HasPrefix(c.Server.APIBase, "/") {
		return fmt.Errorf("API_BASE must start with '/': %q", c.Server.APIBase)
	}
	if c.City.ConfigPath == "" {
		return fmt.Errorf("CITY_CONFIG must not be empty")
	}
	switch strings.ToLower(c.Gate.FailurePolicy) {
	case "closed", "trust_exif":
	default:
		return fmt.Errorf("invalid GATE_FAILURE_POLICY: %q", c.Gate.FailurePolicy)
	}
	if c.Locate.DeviceTimeout <= 0 {
		return fmt.Errorf("DEVICE_LOCATION_TIMEOUT must be positive")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive")
	}
	if c.Boundary.Refresh {
		if c.Boundary.RefreshHour < 0 || c.Boundary.RefreshHour > 23 {
			return fmt.Errorf("BOUNDARY_REFRESH_HOUR must be 0-23: %d", c.Boundary.RefreshHour)
		}
		if _, err := time.LoadLocation(c.Boundary.RefreshTZ); err != nil {
			return fmt.Errorf("invalid BOUNDARY_REFRESH_TZ: %w", err)
		}
	}
	if c.Limit.Enabled && c.Limit.QPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_QPS must be positive when rate limiting is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList：逗号分隔，忽略空项
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
