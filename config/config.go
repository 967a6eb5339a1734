package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env           string        `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath   string        `yaml:"storage_path" env:"STORAGE_PATH" env-required:"true"`
	StorageSecret string        `yaml:"storage_secret" env:"STORAGE_SECRET" env-required:"true"`
	Backend       BackendConfig `yaml:"backend"`
	Session       SessionConfig `yaml:"session"`
}

type BackendConfig struct {
	BaseURL        string        `yaml:"base_url" env:"BACKEND_BASE_URL" env-required:"true"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env-default:"10s"`
	HealthAddr     string        `yaml:"health_addr" env:"BACKEND_HEALTH_ADDR"`
	HealthTimeout  time.Duration `yaml:"health_timeout" env-default:"3s"`
	// Insecure dials the health endpoint without TLS (local backends).
	Insecure       bool          `yaml:"insecure"`
}

type SessionConfig struct {
	ExtendDays         int           `yaml:"extend_days" env-default:"180"`
	LogoutSettleDelay  time.Duration `yaml:"logout_settle_delay" env-default:"150ms"`
	LogoutReleaseDelay time.Duration `yaml:"logout_release_delay" env-default:"1s"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: config file does not exist: %s", op, configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	if flag.Lookup("config") == nil {
		flag.String("config", "", "path to config file")
	}
	flag.Parse()

	res := flag.Lookup("config").Value.String()
	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
