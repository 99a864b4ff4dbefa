// Package config loads deployhost settings from an optional YAML file on top
// of built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

type Config struct {
	DataDir     string          `yaml:"data_dir"`
	Port        int             `yaml:"port"`
	Region      string          `yaml:"region"`
	SettleDelay Duration        `yaml:"settle_delay"`
	Terraform   TerraformConfig `yaml:"terraform"`
	Runner      RunnerConfig    `yaml:"runner"`
	Verify      VerifyConfig    `yaml:"verify"`
	Follow      FollowConfig    `yaml:"follow"`
}

type TerraformConfig struct {
	Binary      string            `yaml:"binary"`
	TemplateDir string            `yaml:"template_dir"`
	Env         map[string]string `yaml:"env"`
}

type RunnerConfig struct {
	Kind        string   `yaml:"kind"`
	Image       string   `yaml:"image"`
	GracePeriod Duration `yaml:"grace_period"`
	TailLines   int      `yaml:"tail_lines"`
}

type VerifyConfig struct {
	OutputKey      string   `yaml:"output_key"`
	Timeout        Duration `yaml:"timeout"`
	Interval       Duration `yaml:"interval"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	ExpectStatus   int      `yaml:"expect_status"`
	ExpectBody     string   `yaml:"expect_body"`
}

type FollowConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
}

func Default() *Config {
	return &Config{
		DataDir:     "./data",
		Port:        8080,
		Region:      "us-west-2",
		SettleDelay: Duration(30 * time.Second),
		Terraform: TerraformConfig{
			Binary:      "terraform",
			TemplateDir: "./infra",
		},
		Runner: RunnerConfig{
			Kind:        RunnerLocal,
			Image:       "hashicorp/terraform:1.9",
			GracePeriod: Duration(10 * time.Second),
			TailLines:   40,
		},
		Verify: VerifyConfig{
			OutputKey:    "application_url",
			Timeout:      Duration(120 * time.Second),
			Interval:     Duration(3 * time.Second),
			ExpectStatus: 200,
		},
		Follow: FollowConfig{
			PollInterval: Duration(500 * time.Millisecond),
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.Runner.Kind {
	case RunnerLocal, RunnerDocker:
	default:
		return fmt.Errorf("runner.kind must be %q or %q, got %q", RunnerLocal, RunnerDocker, c.Runner.Kind)
	}
	if c.Verify.Interval <= 0 || c.Verify.Timeout <= 0 {
		return fmt.Errorf("verify.interval and verify.timeout must be positive")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	return nil
}

func (c *Config) WorkspaceDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}

// TerraformEnv renders the env map as KEY=VALUE pairs.
func (c *Config) TerraformEnv() []string {
	env := make([]string, 0, len(c.Terraform.Env))
	for k, v := range c.Terraform.Env {
		env = append(env, k+"="+v)
	}
	return env
}
