package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// EnvPrefix prefixes environment overrides, e.g. NNBRIDGE_BRIDGE_TIMEOUT=30s.
const EnvPrefix = "NNBRIDGE"

type HostConfig struct {
	LogLevel      string `mapstructure:"log_level"`
	GuestPath     string `mapstructure:"guest_path"`
	ModelLocation string `mapstructure:"model_location"`
	// ConfigFile names one of the guest's declared engine configs.
	ConfigFile string `mapstructure:"config_file"`
	// Mode names one of the guest's declared sub-modes.
	Mode string `mapstructure:"mode"`

	Backend   BackendConfig   `mapstructure:"backend"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Layout    LayoutConfig    `mapstructure:"layout"`
	Inference InferenceConfig `mapstructure:"inference"`
	Wasm      WasmConfig      `mapstructure:"wasm"`
}

// BackendConfig holds compute backend selection.
type BackendConfig struct {
	// Requested is selected before the model loads: auto, cpu or accelerated.
	Requested string `mapstructure:"requested"`
	// Runtime names of the two backends.
	CPUName         string `mapstructure:"cpu_name"`
	AcceleratedName string `mapstructure:"accelerated_name"`
	// OffscreenSurface is the capability AUTO consults.
	OffscreenSurface bool `mapstructure:"offscreen_surface"`
}

// BridgeConfig holds suspend/resume behaviour.
type BridgeConfig struct {
	Strict         bool          `mapstructure:"strict"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Overlap        string        `mapstructure:"overlap"`
	DetailedStatus bool          `mapstructure:"detailed_status"`
}

// LayoutConfig is the board geometry outputs are sized for.
type LayoutConfig struct {
	BoardX int `mapstructure:"board_x"`
	BoardY int `mapstructure:"board_y"`
}

// InferenceConfig holds reference runtime settings.
type InferenceConfig struct {
	// AcceleratedWorkers bounds parallel batch rows. Zero means GOMAXPROCS.
	AcceleratedWorkers int `mapstructure:"accelerated_workers"`
	// FetchTimeout bounds each HTTP request for model files.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum concurrent instances.
	MaxInstances int `mapstructure:"max_instances"`
	// Bounds a whole guest run. Zero means no limit.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// LoadHostConfig reads defaults, then the optional file at configPath, then
// NNBRIDGE_* environment variables.
func LoadHostConfig(configPath string) (*HostConfig, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("guest_path", "./guest")
	v.SetDefault("model_location", "./models/default")
	v.SetDefault("config_file", "")
	v.SetDefault("mode", "")

	v.SetDefault("backend.requested", "auto")
	v.SetDefault("backend.cpu_name", "cpu")
	v.SetDefault("backend.accelerated_name", "webgl")
	v.SetDefault("backend.offscreen_surface", false)

	v.SetDefault("bridge.strict", false)
	v.SetDefault("bridge.timeout", time.Duration(0))
	v.SetDefault("bridge.overlap", "reject")
	v.SetDefault("bridge.detailed_status", false)

	v.SetDefault("layout.board_x", 19)
	v.SetDefault("layout.board_y", 19)

	v.SetDefault("inference.accelerated_workers", 0)
	v.SetDefault("inference.fetch_timeout", 60*time.Second)

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 4096) // 256MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 4)
	v.SetDefault("wasm.execution_timeout", time.Duration(0))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg HostConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *HostConfig) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &InvalidValueError{Key: "log_level", Value: c.LogLevel}
	}

	if _, err := c.RequestedBackend(); err != nil {
		return err
	}

	switch c.Bridge.Overlap {
	case "reject", "queue":
	default:
		return &InvalidValueError{Key: "bridge.overlap", Value: c.Bridge.Overlap}
	}

	if c.Bridge.Timeout < 0 {
		return &InvalidValueError{Key: "bridge.timeout", Value: c.Bridge.Timeout.String()}
	}
	if c.Layout.BoardX <= 0 {
		return &InvalidValueError{Key: "layout.board_x", Value: fmt.Sprint(c.Layout.BoardX)}
	}
	if c.Layout.BoardY <= 0 {
		return &InvalidValueError{Key: "layout.board_y", Value: fmt.Sprint(c.Layout.BoardY)}
	}
	if c.Backend.CPUName == "" || c.Backend.CPUName == c.Backend.AcceleratedName {
		return &InvalidValueError{Key: "backend.cpu_name", Value: c.Backend.CPUName}
	}
	return nil
}

// RequestedBackend parses backend.requested.
func (c *HostConfig) RequestedBackend() (protocol.BackendID, error) {
	switch strings.ToLower(c.Backend.Requested) {
	case "auto", "":
		return protocol.BackendAuto, nil
	case "cpu":
		return protocol.BackendCPU, nil
	case "accelerated":
		return protocol.BackendAccelerated, nil
	default:
		return protocol.BackendUnknown, &InvalidValueError{Key: "backend.requested", Value: c.Backend.Requested}
	}
}

// InvalidValueError occurs when a configuration key holds an unusable value.
type InvalidValueError struct {
	Key   string
	Value string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %q for %s", e.Value, e.Key)
}
