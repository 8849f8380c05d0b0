package kernel

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	slice, err := cfg.Slice()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, slice)
	assert.Equal(t, ByteSize(1<<20), cfg.MainHeap)
	assert.Equal(t, "1MiB", cfg.MainHeap.String())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.yaml")
	data := `
node: 3
main_heap: 65536
wasm_heap: true
default_priority: 90
time_slice: 5ms
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cfg.Node)
	assert.Equal(t, ByteSize(65536), cfg.MainHeap)
	assert.True(t, cfg.WasmHeap)
	assert.Equal(t, 90, cfg.DefaultPriority)
	assert.Equal(t, "debug", cfg.LogLevel)

	slice, err := cfg.Slice()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, slice)
}

func TestLoadConfig_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node: 7\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	want := DefaultConfig()
	want.Node = 7
	assert.Equal(t, want, cfg)
}

func TestLoadConfig_HeapSizeString(t *testing.T) {
	tests := []struct {
		data string
		want ByteSize
	}{
		{"main_heap: 4096", 4096},
		{"main_heap: 64KiB", 64 << 10},
		{"main_heap: 2m", 2 << 20},
		{`main_heap: "1.5MiB"`, 3 << 19},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "kernel.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o644))
			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.MainHeap)
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed yaml", "node: [1, 2"},
		{"zero heap", "main_heap: 0"},
		{"heap too large", "main_heap: 8GiB"},
		{"heap not a size", "main_heap: lots"},
		{"priority too low", "default_priority: 0"},
		{"priority too high", "default_priority: 256"},
		{"bad slice", "time_slice: soon"},
		{"negative slice", "time_slice: -1ms"},
		{"bad log level", "log_level: chatty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "kernel.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}
