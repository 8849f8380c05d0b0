package kernel

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/docker/go-units"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/rtcore/task"
)

// Config holds kernel settings.
type Config struct {
	// Node is the registry scope id this kernel answers for.
	Node uint32 `yaml:"node"`

	// MainHeap is the size of the heap message queue rings are carved
	// from, as a byte count or a size such as "1MiB".
	MainHeap ByteSize `yaml:"main_heap"`

	// WasmHeap backs the main heap with a WebAssembly linear memory instead
	// of a Go slice.
	WasmHeap bool `yaml:"wasm_heap"`

	DefaultPriority int `yaml:"default_priority"`

	// TimeSlice is the default round-robin slice as a duration string;
	// "0" or empty means run to block.
	TimeSlice string `yaml:"time_slice"`

	// LogLevel builds a production logger at this level when no logger is
	// supplied. Empty disables logging.
	LogLevel string `yaml:"log_level"`
}

// ByteSize is a size in bytes that unmarshals from either an integer or a
// binary size string.
type ByteSize uint32

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var n uint64
	if err := node.Decode(&n); err == nil {
		if n > math.MaxUint32 {
			return fmt.Errorf("size %d exceeds 4GiB", n)
		}
		*b = ByteSize(n)
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := units.RAMInBytes(s)
	if err != nil {
		return err
	}
	if v < 0 || v > math.MaxUint32 {
		return fmt.Errorf("size %s out of range", s)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MainHeap:        1 << 20,
		DefaultPriority: task.DefaultPriority,
		TimeSlice:       "10ms",
	}
}

// LoadConfig reads a YAML file over DefaultConfig. A missing file yields
// the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Slice parses TimeSlice.
func (c Config) Slice() (time.Duration, error) {
	if c.TimeSlice == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.TimeSlice)
	if err != nil {
		return 0, fmt.Errorf("time_slice: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("time_slice: negative duration %s", d)
	}
	return d, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if c.MainHeap == 0 {
		return fmt.Errorf("main_heap: must be positive")
	}
	if c.DefaultPriority < task.MinPriority || c.DefaultPriority > task.MaxPriority {
		return fmt.Errorf("default_priority: %d outside [%d,%d]",
			c.DefaultPriority, task.MinPriority, task.MaxPriority)
	}
	if _, err := c.Slice(); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	return nil
}

func (c Config) logger() (*zap.Logger, error) {
	if c.LogLevel == "" {
		return zap.NewNop(), nil
	}
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	return zc.Build()
}
