package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/parser"
)

// Environment variables consulted after flags and before the config file
const (
	EnvCertificate   = "APPSIGNER_CERTIFICATE"
	EnvProfile       = "APPSIGNER_PROFILE"
	EnvConfig        = "APPSIGNER_CONFIG"
	EnvSkipPreflight = "APPSIGNER_SKIP_PREFLIGHT"
)

// Config holds the defaults of the resign command
type Config struct {
	Certificate     string `yaml:"certificate"`
	Profile         string `yaml:"profile"`
	SkipPreflight   bool   `yaml:"skip_preflight"`
	CodesignPath    string `yaml:"codesign_path"`
	SecurityPath    string `yaml:"security_path"`
	DownloadRetries uint   `yaml:"download_retries"`
}

// Load parses the YAML file at path. Unknown keys are rejected; an empty file
// yields an empty Config.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	file, err := parser.ParseBytes(data, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if len(file.Docs) == 0 || file.Docs[0].Body == nil {
		return &config, nil
	}
	if err := yaml.NodeToValue(file.Docs[0].Body, &config, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides the file values with the environment variables that are set
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvCertificate); v != "" {
		c.Certificate = v
	}
	if v := getenv(EnvProfile); v != "" {
		c.Profile = v
	}
	if v := getenv(EnvSkipPreflight); v != "" {
		if skip, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.SkipPreflight = skip
		}
	}
}

// Resolve loads the config file named by path, or by APPSIGNER_CONFIG when
// path is empty, and applies the environment. Without a file only the
// environment is used.
func Resolve(path string, getenv func(string) string) (*Config, error) {
	if path == "" {
		path = getenv(EnvConfig)
	}

	config := &Config{}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	config.ApplyEnv(getenv)
	return config, nil
}

// First returns the first non-empty value
func First(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
