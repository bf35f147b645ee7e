package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cwrk-planet/code-room/internal/assist"
	"github.com/cwrk-planet/code-room/internal/domain"
	"github.com/cwrk-planet/code-room/internal/executor"
	"github.com/cwrk-planet/code-room/internal/postgres"
	"github.com/cwrk-planet/code-room/internal/service"
	"github.com/cwrk-planet/code-room/pkg/logger"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const defaultPath = "./config/config.yaml"

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// GRPC serves health and reflection only; an empty addr disables it.
type GRPC struct {
	Addr           string        `yaml:"addr"`
	DefaultTimeout time.Duration `yaml:"defaultTimeout"`
	HealthRefresh  time.Duration `yaml:"healthRefresh"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // code-room
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

// Postgres holds the run audit log; an empty dsn disables it.
type Postgres struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
}

func (p Postgres) ToPGConfig() postgres.Config {
	return postgres.Config{
		DSN:               p.DSN,
		MaxConns:          p.MaxConns,
		MinConns:          p.MinConns,
		MaxConnLifetime:   p.MaxConnLifetime,
		MaxConnIdleTime:   p.MaxConnIdleTime,
		HealthCheckPeriod: p.HealthCheckPeriod,
		ApplicationName:   p.ApplicationName,
	}
}

// Redis backs the run limiter; an empty addr selects the in-process one.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Executor struct {
	WorkDir       string `yaml:"workDir"`
	MaxConcurrent int64  `yaml:"maxConcurrent"`
	Node          string `yaml:"node"`
	Python        string `yaml:"python"`
	Javac         string `yaml:"javac"`
	Java          string `yaml:"java"`
	Gxx           string `yaml:"gxx"`
}

func (e Executor) ToOptions() executor.Options {
	return executor.Options{
		WorkDir:       e.WorkDir,
		MaxConcurrent: e.MaxConcurrent,
		Toolchain: executor.Toolchain{
			Node:   e.Node,
			Python: e.Python,
			Javac:  e.Javac,
			Java:   e.Java,
			Gxx:    e.Gxx,
		},
	}
}

type Rooms struct {
	DefaultCode     string `yaml:"defaultCode"`
	DefaultLanguage string `yaml:"defaultLanguage"`
	EvictEmpty      bool   `yaml:"evictEmpty"`
}

func (r Rooms) ToOptions() service.RoomOptions {
	return service.RoomOptions{
		DefaultCode:     r.DefaultCode,
		DefaultLanguage: domain.Language(r.DefaultLanguage),
		EvictEmpty:      r.EvictEmpty,
	}
}

// Limits throttle clients. RunsPerWindow counts per client address; zero
// disables the run limiter.
type Limits struct {
	RunsPerWindow     int           `yaml:"runsPerWindow"`
	RunWindow         time.Duration `yaml:"runWindow"`
	MessagesPerSecond float64       `yaml:"messagesPerSecond"`
	MessageBurst      int           `yaml:"messageBurst"`
}

type Assist struct {
	APIKey  string        `yaml:"apiKey"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

func (a Assist) ToConfig() assist.Config {
	return assist.Config{APIKey: a.APIKey, Model: a.Model, BaseURL: a.BaseURL, Timeout: a.Timeout}
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Executor Executor `yaml:"executor"`
	Rooms    Rooms    `yaml:"rooms"`
	Limits   Limits   `yaml:"limits"`
	Assist   Assist   `yaml:"assist"`
}

// envOverlay lists the variables that override the file.
type envOverlay struct {
	HTTPAddr     string `envconfig:"HTTP_ADDR"`
	Port         string `envconfig:"PORT"`
	GRPCAddr     string `envconfig:"GRPC_ADDR"`
	AppEnv       string `envconfig:"APP_ENV"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
	PostgresDSN  string `envconfig:"POSTGRES_DSN"`
	RedisAddr    string `envconfig:"REDIS_ADDR"`
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	WorkDir      string `envconfig:"EXECUTOR_WORK_DIR"`
}

// LoadConfig reads CONFIG_PATH (default ./config/config.yaml), applies the
// environment overlay and fills defaults. A missing default file is not an
// error; a missing explicit one is.
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverlay
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("env: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.HTTP.Addr, env.HTTPAddr)
	if env.HTTPAddr == "" && env.Port != "" {
		c.HTTP.Addr = ":" + env.Port
	}
	set(&c.GRPC.Addr, env.GRPCAddr)
	set(&c.Logging.Env, env.AppEnv)
	set(&c.Logging.Level, env.LogLevel)
	set(&c.Postgres.DSN, env.PostgresDSN)
	set(&c.Redis.Addr, env.RedisAddr)
	set(&c.Assist.APIKey, env.GeminiAPIKey)
	set(&c.Executor.WorkDir, env.WorkDir)
	return nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":5000"
	}
	c.HTTP.ReadTimeout = orDefault(c.HTTP.ReadTimeout, 10*time.Second)
	// writes on /ai/fix-code wait for the model
	c.HTTP.WriteTimeout = orDefault(c.HTTP.WriteTimeout, 100*time.Second)
	c.HTTP.IdleTimeout = orDefault(c.HTTP.IdleTimeout, 60*time.Second)
	c.HTTP.ShutdownTimeout = orDefault(c.HTTP.ShutdownTimeout, 10*time.Second)

	c.GRPC.DefaultTimeout = orDefault(c.GRPC.DefaultTimeout, 10*time.Second)
	c.GRPC.HealthRefresh = orDefault(c.GRPC.HealthRefresh, 30*time.Second)

	if c.Logging.Service == "" {
		c.Logging.Service = "code-room"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = string(logger.DetectEnv())
	} else {
		c.Logging.Env = string(logger.ParseEnv(c.Logging.Env))
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	switch logger.Backend(c.Logging.Backend) {
	case "", logger.BackendStd, logger.BackendZap:
	default:
		return fmt.Errorf("logging.backend %q must be std or zap", c.Logging.Backend)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	if c.Postgres.ApplicationName == "" {
		c.Postgres.ApplicationName = c.Logging.Service
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "coderoom:runs"
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must be >= 0")
	}

	if c.Executor.MaxConcurrent < 0 {
		return errors.New("executor.maxConcurrent must be >= 0")
	}

	if c.Rooms.DefaultCode == "" {
		c.Rooms.DefaultCode = service.DefaultCode
	}
	if c.Rooms.DefaultLanguage == "" {
		c.Rooms.DefaultLanguage = string(service.DefaultLanguage)
	}
	if !domain.Language(c.Rooms.DefaultLanguage).Supported() {
		return fmt.Errorf("rooms.defaultLanguage %q is not one of %v",
			c.Rooms.DefaultLanguage, domain.SupportedLanguages())
	}

	if c.Limits.RunsPerWindow < 0 || c.Limits.MessagesPerSecond < 0 || c.Limits.MessageBurst < 0 {
		return errors.New("limits must be >= 0")
	}
	// runsPerWindow 0 leaves run requests unlimited
	c.Limits.RunWindow = orDefault(c.Limits.RunWindow, time.Minute)
	if c.Limits.MessagesPerSecond == 0 {
		c.Limits.MessagesPerSecond = 50
	}
	if c.Limits.MessageBurst == 0 {
		c.Limits.MessageBurst = 100
	}

	if c.Assist.Model == "" {
		c.Assist.Model = assist.DefaultModel
	}
	c.Assist.Timeout = orDefault(c.Assist.Timeout, 60*time.Second)
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
