package core

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Application ApplicationSection `toml:"application"`
	Renderer    RendererSection    `toml:"renderer"`
	Shaders     ShaderSection      `toml:"shaders"`
}

type ApplicationSection struct {
	Name        string `toml:"name"`
	StartPosX   uint32 `toml:"start_pos_x"`
	StartPosY   uint32 `toml:"start_pos_y"`
	StartWidth  uint32 `toml:"start_width"`
	StartHeight uint32 `toml:"start_height"`
	LogLevel    string `toml:"log_level"`
	// Zero disables the limiter.
	FrameRateLimit uint32 `toml:"frame_rate_limit"`
}

type RendererSection struct {
	VirtualFrames uint32 `toml:"virtual_frames"`
	// Bytes of transient memory available to each virtual frame.
	TransientMemoryPerFrame uint64   `toml:"transient_memory_per_frame"`
	StaticMemory            uint64   `toml:"static_memory"`
	PipelineCachePath       string   `toml:"pipeline_cache_path"`
	FenceTimeout            Duration `toml:"fence_timeout"`
	VSync                   bool     `toml:"vsync"`
	Validation              bool     `toml:"validation"`
}

type ShaderSection struct {
	Directory string `toml:"directory"`
	HotReload bool   `toml:"hot_reload"`
	Glslc     string `toml:"glslc"`
}

// Duration is a time.Duration stored as a string such as "100ms".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	*d = Duration(v)
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationSection{
			Name:        "vkcore testbed",
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
			LogLevel:    "info",
		},
		Renderer: RendererSection{
			VirtualFrames:           3,
			TransientMemoryPerFrame: 1 << 24,
			StaticMemory:            1 << 26,
			PipelineCachePath:       "pipelineCache.bin",
			FenceTimeout:            Duration(100 * time.Millisecond),
			VSync:                   true,
		},
		Shaders: ShaderSection{
			Directory: "assets/shaders",
			HotReload: true,
			Glslc:     "glslc",
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		LogInfo("config file '%s' not found, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			err = fmt.Errorf("%w: %s:%d:%d: %s", ErrInvalidConfig, path, row, col, derr.Error())
		} else {
			err = fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
		LogError(err.Error())
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MaxTransientMemory bounds the transient memory of all virtual frames
// together, since dynamic uniform offsets into it are 32 bit.
const MaxTransientMemory = math.MaxUint32

func (c *Config) Validate() error {
	if c.Renderer.VirtualFrames == 0 || c.Renderer.VirtualFrames > 64 {
		return fmt.Errorf("%w: renderer.virtual_frames must be in [1, 64], got %d", ErrInvalidConfig, c.Renderer.VirtualFrames)
	}
	if c.Renderer.TransientMemoryPerFrame == 0 {
		return fmt.Errorf("%w: renderer.transient_memory_per_frame must not be zero", ErrInvalidConfig)
	}
	if c.Renderer.TransientMemoryPerFrame > MaxTransientMemory/uint64(c.Renderer.VirtualFrames) {
		return fmt.Errorf("%w: renderer.transient_memory_per_frame of %d bytes over %d frames exceeds %d bytes",
			ErrInvalidConfig, c.Renderer.TransientMemoryPerFrame, c.Renderer.VirtualFrames, uint64(MaxTransientMemory))
	}
	if _, err := ParseLogLevel(c.Application.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
