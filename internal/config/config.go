package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/power-plant/powerplant/internal/acquire"
	"github.com/power-plant/powerplant/internal/database"
	"github.com/power-plant/powerplant/internal/ffmpeg"
	"github.com/power-plant/powerplant/internal/jobs"
	"github.com/power-plant/powerplant/internal/storage"
)

// PowerPlantConfig is the aggregate configuration for both the API server
// and the worker. Values come from a YAML file, the environment, or both;
// environment always wins.
type PowerPlantConfig struct {
	Database database.DatabaseConfig `yaml:"database" env-required:"true"`
	Storage  storage.Config          `yaml:"storage"`
	Jobs     jobs.Config             `yaml:"jobs"`
	Acquire  acquire.Config          `yaml:"acquire"`
	Ffmpeg   ffmpeg.Config           `yaml:"ffmpeg"`

	ApiHostAddr string `yaml:"host" env:"HOST_ADDR" env-default:"0.0.0.0" validate:"ip|hostname_rfc1123"`
	ApiHostPort string `yaml:"port" env:"HOST_PORT" env-default:"8080" validate:"numeric"`
}

// LoadFromFile populates the config from a YAML file, with environment
// variable overrides applied on top.
func (config *PowerPlantConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return config.validate()
}

// LoadFromEnv populates the config from the environment alone, for
// deployments (such as job containers) that carry no config file.
func (config *PowerPlantConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return config.validate()
}

func (config *PowerPlantConfig) validate() error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	return nil
}

func (config *PowerPlantConfig) HostAddress() string {
	return fmt.Sprintf("%s:%s", config.ApiHostAddr, config.ApiHostPort)
}
