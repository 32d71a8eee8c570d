package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"datastack/pkg/logging"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".datastack"
	configFileName = "datastack.yaml"
	dotenvFileName = ".env"
)

// GetDefaultConfigPathOrPanic returns the per-user configuration directory.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// envOverrides are process-environment overrides applied on top of the file.
type envOverrides struct {
	Engine  string `env:"DATASTACK_ENGINE"`
	Network string `env:"DATASTACK_NETWORK"`
	Workers int    `env:"DATASTACK_WORKERS"`
}

// LoadConfig loads configuration from the specified directory. The directory
// should contain datastack.yaml and optionally a .env file with secrets that
// are substituted into ${VAR} references in service environment values.
//
// A missing datastack.yaml yields the default stack; a malformed one is an
// error. The returned config has all defaults applied and passes Validate.
func LoadConfig(configPath string) (PlatformConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	cfg := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No %s found at %s, using default stack", configFileName, configFilePath)
			return finalize(cfg, configPath)
		}
		return PlatformConfig{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PlatformConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)

	return finalize(cfg, configPath)
}

// SaveConfig writes the configuration to datastack.yaml in the given
// directory, creating it if necessary. Used by `datastack init`.
func SaveConfig(cfg PlatformConfig, configPath string) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configPath, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	configFilePath := filepath.Join(configPath, configFileName)
	if err := os.WriteFile(configFilePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configFilePath, err)
	}

	logging.Info("ConfigLoader", "Saved configuration to %s", configFilePath)
	return nil
}

// finalize applies defaults, secret substitution, environment overrides and
// validation. All loaded configs pass through here exactly once.
func finalize(cfg PlatformConfig, configPath string) (PlatformConfig, error) {
	applyRuntimeDefaults(&cfg.Runtime)

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return PlatformConfig{}, fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	if overrides.Engine != "" {
		cfg.Runtime.Engine = overrides.Engine
	}
	if overrides.Network != "" {
		cfg.Runtime.Network = overrides.Network
	}
	if overrides.Workers > 0 {
		cfg.Runtime.Workers = overrides.Workers
	}

	secrets := loadSecrets(configPath)

	specs := make([]ServiceSpec, 0, cfg.Services.Len())
	for _, name := range cfg.Services.Names() {
		spec, _ := cfg.Services.Get(name)
		if spec.HealthCheck != nil {
			hc := *spec.HealthCheck
			applyHealthCheckDefaults(&hc)
			spec.HealthCheck = &hc
		}
		spec.Env = expandSecrets(name, spec.Env, secrets)
		specs = append(specs, spec)
	}
	cfg.Services = NewServiceMap(specs...)

	if err := Validate(cfg); err != nil {
		return PlatformConfig{}, err
	}
	return cfg, nil
}

// loadSecrets reads the .env file next to the config, if present. Process
// environment variables take precedence over file entries.
func loadSecrets(configPath string) map[string]string {
	secrets, err := godotenv.Read(filepath.Join(configPath, dotenvFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("ConfigLoader", "Could not read %s: %v", dotenvFileName, err)
		}
		return map[string]string{}
	}
	logging.Debug("ConfigLoader", "Loaded %d entries from %s", len(secrets), dotenvFileName)
	return secrets
}

// expandSecrets substitutes ${VAR} references in environment values from the
// process environment and the .env file.
func expandSecrets(service string, envMap map[string]string, secrets map[string]string) map[string]string {
	if len(envMap) == 0 {
		return envMap
	}

	expanded := make(map[string]string, len(envMap))
	for k, v := range envMap {
		expanded[k] = os.Expand(v, func(name string) string {
			if val, ok := os.LookupEnv(name); ok {
				return val
			}
			if val, ok := secrets[name]; ok {
				return val
			}
			logging.Warn("ConfigLoader", "Service %s references undefined variable %s", service, name)
			return ""
		})
	}
	return expanded
}
