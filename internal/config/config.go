// Package config loads the engine flags (§6) and CLI-level settings that
// govern a single netreach run: environment variables with defaults,
// optionally overlaid by a config file for repeated runs against
// different snapshots.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"

	"github.com/netreach/netreach/internal/flags"
)

// Config holds everything a netreach invocation needs beyond the input
// model itself: the engine flags and the CLI's own settings.
type Config struct {
	Flags flags.Flags

	// InputDir is the directory of serialized workloads, namespaces and
	// policies the loader reads (§6 CLI surface).
	InputDir string
	// OutputFormat selects how diagnostics are printed: "text" or "json".
	OutputFormat string
	// Engine selects which engine diagnostics read from: "bitmap",
	// "relation", or "both" (the latter also checks engine equivalence,
	// §8 property 2).
	Engine string
}

const (
	defaultOutputFormat = "text"
	defaultEngine       = "bitmap"
)

// Load builds a Config from environment variables, applying the package's
// defaults to anything unset. It never reads a config file; use LoadFile
// for that.
func Load() *Config {
	return &Config{
		Flags: flags.Flags{
			CheckSelfIngressTraffic: getEnvBool("NETREACH_CHECK_SELF_INGRESS", false),
			CheckSelectByNoPolicy:   getEnvBool("NETREACH_CHECK_SELECT_BY_NO_POLICY", true),
			BuildTransposeMatrix:    getEnvBool("NETREACH_BUILD_TRANSPOSE", false),
			GroundDefaultPod:        getEnvBool("NETREACH_GROUND_DEFAULT_POD", true),
		},
		InputDir:     getEnv("NETREACH_INPUT_DIR", "."),
		OutputFormat: getEnv("NETREACH_OUTPUT_FORMAT", defaultOutputFormat),
		Engine:       getEnv("NETREACH_ENGINE", defaultEngine),
	}
}

// LoadFile overlays an optional YAML config file (conventionally
// netreach.yaml) on top of Load's environment-derived defaults, using
// viper the way the pack's CLI tooling does. A missing file is not an
// error — it is treated as "no overrides".
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	v.SetDefault("checkSelfIngressTraffic", cfg.Flags.CheckSelfIngressTraffic)
	v.SetDefault("checkSelectByNoPolicy", cfg.Flags.CheckSelectByNoPolicy)
	v.SetDefault("buildTransposeMatrix", cfg.Flags.BuildTransposeMatrix)
	v.SetDefault("groundDefaultPod", cfg.Flags.GroundDefaultPod)
	v.SetDefault("inputDir", cfg.InputDir)
	v.SetDefault("outputFormat", cfg.OutputFormat)
	v.SetDefault("engine", cfg.Engine)

	cfg.Flags.CheckSelfIngressTraffic = v.GetBool("checkSelfIngressTraffic")
	cfg.Flags.CheckSelectByNoPolicy = v.GetBool("checkSelectByNoPolicy")
	cfg.Flags.BuildTransposeMatrix = v.GetBool("buildTransposeMatrix")
	cfg.Flags.GroundDefaultPod = v.GetBool("groundDefaultPod")
	cfg.InputDir = v.GetString("inputDir")
	cfg.OutputFormat = v.GetString("outputFormat")
	cfg.Engine = v.GetString("engine")

	return cfg, nil
}

// Validate rejects settings the CLI cannot act on. Called from main.go
// before anything else runs.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("config: InputDir must not be empty")
	}
	switch c.OutputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown OutputFormat %q (want text or json)", c.OutputFormat)
	}
	switch c.Engine {
	case "bitmap", "relation", "both":
	default:
		return fmt.Errorf("config: unknown Engine %q (want bitmap, relation or both)", c.Engine)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
