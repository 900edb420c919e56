package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fxnlabs/gemm-tuner/internal/gpu"
)

// ByteSize is a byte count written in YAML as a human readable size
// ("64MiB", "4GB") or a plain integer.
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: byte size must be a scalar", node.Line)
	}
	n, err := humanize.ParseBytes(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Shape names a GEMM problem: D (m×n) = A (m×k) @ B (k×n), batch times.
type Shape struct {
	M     int `yaml:"m"`
	K     int `yaml:"k"`
	N     int `yaml:"n"`
	Batch int `yaml:"batch,omitempty"`
}

func (s Shape) String() string {
	if s.Batch > 1 {
		return fmt.Sprintf("%dx%dx%d (batch %d)", s.M, s.K, s.N, s.Batch)
	}
	return fmt.Sprintf("%dx%dx%d", s.M, s.K, s.N)
}

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Encoding  string `yaml:"encoding"`
	} `yaml:"logger"`
	Backend struct {
		Kind string `yaml:"kind"`
		CPU  struct {
			Parallelism  int      `yaml:"parallelism"`
			DeviceMemory ByteSize `yaml:"deviceMemory"`
			Kernels      []string `yaml:"kernels"`
		} `yaml:"cpu"`
	} `yaml:"backend"`
	Tuner struct {
		WorkspaceLimit ByteSize      `yaml:"workspaceLimit"`
		MaxCandidates  int           `yaml:"maxCandidates"`
		Timeout        time.Duration `yaml:"timeout"`
	} `yaml:"tuner"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
	Presets map[string]Shape `yaml:"presets"`
}

// Default returns the configuration used for keys missing from a file.
func Default() *Config {
	var c Config
	c.Logger.Verbosity = "info"
	c.Logger.Encoding = "json"
	c.Backend.Kind = gpu.KindAuto
	c.Backend.CPU.DeviceMemory = 4 << 30
	c.Tuner.WorkspaceLimit = 64 << 20
	c.Tuner.MaxCandidates = 8
	c.Tuner.Timeout = 30 * time.Second
	c.Metrics.ListenAddress = ":9100"
	c.Presets = map[string]Shape{
		"scenario": {M: 5376, K: 2048, N: 256},
	}
	return &c
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case gpu.KindAuto, gpu.KindCPU, gpu.KindCUDA:
	default:
		return errors.Errorf("backend.kind: unknown backend %q", c.Backend.Kind)
	}
	switch c.Logger.Encoding {
	case "", "json", "console":
	default:
		return errors.Errorf("logger.encoding: unknown encoding %q", c.Logger.Encoding)
	}
	if c.Backend.CPU.Parallelism < 0 {
		return errors.Errorf("backend.cpu.parallelism: must not be negative, got %d", c.Backend.CPU.Parallelism)
	}
	if _, err := c.CPUOptions(); err != nil {
		return errors.WithMessage(err, "backend.cpu.kernels")
	}
	if c.Tuner.MaxCandidates < 0 {
		return errors.Errorf("tuner.maxCandidates: must not be negative, got %d", c.Tuner.MaxCandidates)
	}
	if c.Tuner.Timeout < 0 {
		return errors.Errorf("tuner.timeout: must not be negative, got %s", c.Tuner.Timeout)
	}
	for name, s := range c.Presets {
		if s.M < 1 || s.K < 1 || s.N < 1 || s.Batch < 0 {
			return errors.Errorf("presets.%s: invalid shape %s", name, s)
		}
	}
	return nil
}

// CPUOptions converts the backend.cpu section for gpu.NewCPUBackend.
func (c *Config) CPUOptions() (gpu.CPUOptions, error) {
	opts := gpu.CPUOptions{
		Parallelism:  c.Backend.CPU.Parallelism,
		DeviceMemory: uint64(c.Backend.CPU.DeviceMemory),
	}
	for _, name := range c.Backend.CPU.Kernels {
		k, err := gpu.ParseKernel(name)
		if err != nil {
			return gpu.CPUOptions{}, err
		}
		opts.Kernels = append(opts.Kernels, k)
	}
	return opts, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid config %s", path)
	}

	return config, nil
}
