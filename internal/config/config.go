package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env   string      `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTP  HTTPConfig  `yaml:"http"`
	Redis RedisConfig `yaml:"redis"`
	Poll  PollConfig  `yaml:"poll"`
	Auth  AuthConfig  `yaml:"auth"`
}

type HTTPConfig struct {
	Port           int      `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-default:"http://localhost:8080"`
}

type RedisConfig struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type PollConfig struct {
	// Driver selects the store backend: "redis" or "memory".
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"redis"`
	// Duration is the poll record TTL. Expiry is absolute from creation,
	// matching the single EXPIRE issued when the record is written.
	Duration time.Duration `yaml:"duration" env:"POLL_DURATION" env-default:"2h"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
}

// Load reads configuration from the given yaml file, overlaid with
// environment variables. An empty path reads from the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
