// Package config loads authority and agent configuration the way the rest
// of this fabric's ambient stack works: environment variables via envconfig,
// with a struct-tag default, optionally overlaid by a YAML file.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// AuthorityConfig configures the authority binary.
type AuthorityConfig struct {
	ListenAddr           string `yaml:"listenAddr" envconfig:"LISTEN_ADDR" default:":8100"`
	PublicKeyPath        string `yaml:"publicKeyPath" envconfig:"PUBLIC_KEY_PATH"`
	PrivateKeyPath       string `yaml:"privateKeyPath" envconfig:"PRIVATE_KEY_PATH"`
	NodeTimeoutSeconds   int    `yaml:"nodeTimeoutSeconds" envconfig:"NODE_TIMEOUT_SECONDS" default:"300"`
	SweepIntervalSeconds int    `yaml:"sweepIntervalSeconds" envconfig:"SWEEP_INTERVAL_SECONDS" default:"60"`
	NodePersistPath      string `yaml:"nodePersistPath" envconfig:"NODE_PERSIST_PATH" default:"./data/nodes.json"`
	LicensePersistPath   string `yaml:"licensePersistPath" envconfig:"LICENSE_PERSIST_PATH" default:"./data/licenses.json"`
	ActivationLogPath    string `yaml:"activationLogPath" envconfig:"ACTIVATION_LOG_PATH" default:"./data/activation.log"`
	AdminToken           string `yaml:"adminToken" envconfig:"ADMIN_TOKEN"`
	LogLevel             string `yaml:"logLevel" envconfig:"LOG_LEVEL" default:"info"`
	LogFormat            string `yaml:"logFormat" envconfig:"LOG_FORMAT" default:"json"`
}

// AgentConfig configures the agent lifecycle controller.
type AgentConfig struct {
	Code                     string `yaml:"code" envconfig:"CODE"`
	ServerURL                string `yaml:"serverUrl" envconfig:"SERVER_URL" default:"http://localhost:8100"`
	PublicKey                string `yaml:"publicKey" envconfig:"PUBLIC_KEY"`
	PublicKeyPath            string `yaml:"publicKeyPath" envconfig:"PUBLIC_KEY_PATH"`
	HeartbeatIntervalSeconds int    `yaml:"heartbeatIntervalSeconds" envconfig:"HEARTBEAT_INTERVAL_SECONDS" default:"120"`
	GracePeriodHours         int    `yaml:"gracePeriodHours" envconfig:"GRACE_PERIOD_HOURS" default:"72"`
	CachePath                string `yaml:"cachePath" envconfig:"CACHE_PATH" default:"./.license-cache"`
	ExcludePaths             string `yaml:"excludePaths" envconfig:"EXCLUDE_PATHS" default:"/healthz,/metrics"`
	MetricsAddr              string `yaml:"metricsAddr" envconfig:"METRICS_ADDR" default:":9101"`
	LogLevel                 string `yaml:"logLevel" envconfig:"LOG_LEVEL" default:"info"`
}

// LoadAuthorityConfig applies envconfig defaults/environment first (under
// the LICENSE_AUTHORITY_ prefix), then overlays an optional YAML file on
// top — the same order the ambient config stack elsewhere in this style of
// codebase uses, since envconfig's "default" tag would otherwise clobber a
// value already set from YAML.
func LoadAuthorityConfig(yamlPath string) (AuthorityConfig, error) {
	var cfg AuthorityConfig
	if err := envconfig.Process("LICENSE_AUTHORITY", &cfg); err != nil {
		return cfg, fmt.Errorf("process authority environment config: %w", err)
	}
	if err := mergeYAML(yamlPath, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadAgentConfig applies envconfig defaults/environment first (under the
// LICENSE_AGENT_ prefix), then overlays an optional YAML file on top.
func LoadAgentConfig(yamlPath string) (AgentConfig, error) {
	var cfg AgentConfig
	if err := envconfig.Process("LICENSE_AGENT", &cfg); err != nil {
		return cfg, fmt.Errorf("process agent environment config: %w", err)
	}
	if err := mergeYAML(yamlPath, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func mergeYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
