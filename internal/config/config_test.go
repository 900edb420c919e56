package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fxnlabs/gemm-tuner/fixtures"
	"github.com/fxnlabs/gemm-tuner/internal/gpu"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "console", config.Logger.Encoding)
		assert.Equal(t, gpu.KindCPU, config.Backend.Kind)
		assert.Equal(t, 4, config.Backend.CPU.Parallelism)
		assert.Equal(t, ByteSize(512<<20), config.Backend.CPU.DeviceMemory)
		assert.Equal(t, []string{"packed", "tiled"}, config.Backend.CPU.Kernels)
		assert.Equal(t, ByteSize(1000000), config.Tuner.WorkspaceLimit)
		assert.Equal(t, 3, config.Tuner.MaxCandidates)
		assert.Equal(t, 90*time.Second, config.Tuner.Timeout)
		assert.Equal(t, "127.0.0.1:9200", config.Metrics.ListenAddress)
		assert.Equal(t, Shape{M: 8, K: 4, N: 2, Batch: 3}, config.Presets["tiny"])

		opts, err := config.CPUOptions()
		require.NoError(t, err)
		assert.Equal(t, gpu.CPUOptions{
			Parallelism:  4,
			DeviceMemory: 512 << 20,
			Kernels:      []gpu.Kernel{gpu.KernelPacked, gpu.KernelTiled},
		}, opts)
	})

	t.Run("missing keys keep defaults", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/partial_config.yaml")
		require.NoError(t, err)

		assert.Equal(t, gpu.KindCUDA, config.Backend.Kind)
		assert.Equal(t, 1, config.Tuner.MaxCandidates)
		assert.Equal(t, ByteSize(64<<20), config.Tuner.WorkspaceLimit)
		assert.Equal(t, 30*time.Second, config.Tuner.Timeout)
		assert.Equal(t, "info", config.Logger.Verbosity)
		assert.Contains(t, config.Presets, "scenario")
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := LoadConfig("../../fixtures/tests/config/unknown_backend.yaml")
		assert.ErrorContains(t, err, "backend.kind")
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir, err := os.Getwd()
		require.NoError(t, err)

		configPath := filepath.Join(dir, "..", "..", "fixtures", "tests", "invalid_config", "config.yaml")
		_, err = LoadConfig(configPath)
		assert.Error(t, err)
	})

	t.Run("embedded template", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, fixtures.ConfigTemplate, 0o600))
		config, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, Default().Tuner, config.Tuner)
		assert.Equal(t, Shape{M: 5376, K: 2048, N: 256}, config.Presets["scenario"])
	})
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown encoding", func(c *Config) { c.Logger.Encoding = "xml" }, "logger.encoding"},
		{"negative parallelism", func(c *Config) { c.Backend.CPU.Parallelism = -1 }, "parallelism"},
		{"unknown kernel", func(c *Config) { c.Backend.CPU.Kernels = []string{"strassen"} }, "kernels"},
		{"negative candidates", func(c *Config) { c.Tuner.MaxCandidates = -2 }, "maxCandidates"},
		{"negative timeout", func(c *Config) { c.Tuner.Timeout = -time.Second }, "timeout"},
		{"empty preset", func(c *Config) { c.Presets["bad"] = Shape{M: 1, K: 0, N: 1} }, "presets.bad"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := Default()
			tc.mutate(config)
			err := config.Validate()
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestByteSize(t *testing.T) {
	testCases := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{in: "64MiB", want: 64 << 20},
		{in: "4GB", want: 4_000_000_000},
		{in: "1024", want: 1024},
		{in: "0", want: 0},
		{in: "lots", wantErr: true},
		{in: "[1, 2]", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			var out struct {
				Size ByteSize `yaml:"size"`
			}
			err := yaml.Unmarshal([]byte("size: "+tc.in), &out)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Size)
		})
	}

	data, err := yaml.Marshal(struct {
		Size ByteSize `yaml:"size"`
	}{64 << 20})
	require.NoError(t, err)
	assert.Equal(t, "size: 64 MiB\n", string(data))
}

func TestByteSize_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		node   *yaml.Node
		errMsg string
	}{
		{
			name:   "not a size",
			node:   &yaml.Node{Kind: yaml.ScalarNode, Value: "lots", Line: 3},
			errMsg: "line 3: ",
		},
		{
			name:   "sequence",
			node:   &yaml.Node{Kind: yaml.SequenceNode, Line: 7},
			errMsg: "line 7: byte size must be a scalar",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var b ByteSize
			err := b.UnmarshalYAML(tc.node)
			assert.ErrorContains(t, err, tc.errMsg)
			assert.Implements(t, (*interface{ StackTrace() errors.StackTrace })(nil), err)
			assert.Zero(t, b)
		})
	}
}
