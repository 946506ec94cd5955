// Package config loads the context's TOML-backed configuration: the four
// options spec.md §6 lists as recognised by the context (instance_count,
// opt_level, target_options, enable_ir_dump), following the same
// load/save/generate-default shape as internal/pkg/config.go's package
// manifest.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the conventional name of a dspjit configuration file.
const FileName = "dspjit.toml"

// OptLevel selects the backend's optimisation aggressiveness (spec.md §6).
type OptLevel string

const (
	OptNone       OptLevel = "none"
	OptLess       OptLevel = "less"
	OptDefault    OptLevel = "default"
	OptAggressive OptLevel = "aggressive"
)

func (o OptLevel) valid() bool {
	switch o {
	case OptNone, OptLess, OptDefault, OptAggressive:
		return true
	default:
		return false
	}
}

// Config is the context's configuration: how many runtime instances to
// provision, how hard the backend should optimise, backend-specific target
// options forwarded verbatim, and whether to dump IR to the log sink.
type Config struct {
	InstanceCount int      `toml:"instance_count"`
	OptLevel      OptLevel `toml:"opt_level"`
	TargetOptions string   `toml:"target_options"`
	EnableIRDump  bool     `toml:"enable_ir_dump"`
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	return &c, nil
}

// Validate reports whether c's fields hold values the context can act on.
func (c *Config) Validate() error {
	if c.InstanceCount <= 0 {
		return fmt.Errorf("config: instance_count must be positive, got %d", c.InstanceCount)
	}
	if !c.OptLevel.valid() {
		return fmt.Errorf("config: opt_level %q is not one of none/less/default/aggressive", c.OptLevel)
	}
	return nil
}

// Save writes c to path as a commented TOML file.
func (c *Config) Save(path string) error {
	if err := os.WriteFile(path, []byte(c.render()), 0644); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	return nil
}

func (c *Config) render() string {
	var sb strings.Builder
	sb.WriteString("# Number of parallel runtime instances the state manager provisions.\n")
	sb.WriteString(fmt.Sprintf("instance_count = %d\n\n", c.InstanceCount))
	sb.WriteString("# One of \"none\", \"less\", \"default\", \"aggressive\".\n")
	sb.WriteString(fmt.Sprintf("opt_level = %q\n\n", string(c.OptLevel)))
	sb.WriteString("# Forwarded to the backend verbatim.\n")
	sb.WriteString(fmt.Sprintf("target_options = %q\n\n", c.TargetOptions))
	sb.WriteString("# Emit human-readable IR before and after optimisation to the log sink.\n")
	sb.WriteString(fmt.Sprintf("enable_ir_dump = %t\n", c.EnableIRDump))
	return sb.String()
}

// GenerateDefault returns a Config with conservative defaults: a single
// runtime instance, no optimisation, and IR dumping off.
func GenerateDefault() *Config {
	return &Config{
		InstanceCount: 1,
		OptLevel:      OptNone,
		TargetOptions: "",
		EnableIRDump:  false,
	}
}
