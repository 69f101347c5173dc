package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fingerprint-shield/internal/prng"
)

type Config struct {
	Seed     SeedConfig     `yaml:"seed"`
	Noise    NoiseConfig    `yaml:"noise"`
	Delay    DelayConfig    `yaml:"delay"`
	Families FamiliesConfig `yaml:"families"`
	Browser  BrowserConfig  `yaml:"browser"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type SeedConfig struct {
	Salt                 string        `yaml:"salt"`
	RotationWindow       time.Duration `yaml:"rotation_window"`
	RotationCheck        time.Duration `yaml:"rotation_check"`
	MicroReseedMin       time.Duration `yaml:"micro_reseed_min"`
	MicroReseedMax       time.Duration `yaml:"micro_reseed_max"`
	StrictEntropy        bool          `yaml:"strict_entropy"`
	FallbackOriginMarker string        `yaml:"fallback_origin"`
	Generator            string        `yaml:"generator"` // mulberry32, xorshift32, xorshift128 or sfc32
}

type NoiseConfig struct {
	Audio  AudioNoiseConfig  `yaml:"audio"`
	Timing TimingNoiseConfig `yaml:"timing"`
	Pixels PixelNoiseConfig  `yaml:"pixels"`
	Drift  DriftNoiseConfig  `yaml:"drift"`
}

type AudioNoiseConfig struct {
	BaseSigma          float64 `yaml:"base_sigma"`
	SigmaJitter        float64 `yaml:"sigma_jitter"`
	PoolSize           int     `yaml:"pool_size"`
	FailureProbability float64 `yaml:"failure_probability"`
}

type TimingNoiseConfig struct {
	JitterMaxMs   float64 `yaml:"jitter_max_ms"`
	DateSkewMaxMs float64 `yaml:"date_skew_max_ms"`
}

type PixelNoiseConfig struct {
	BaseProbability    float64 `yaml:"base_probability"`
	MaxShiftBase       float64 `yaml:"max_shift_base"`
	MaxShiftCap        float64 `yaml:"max_shift_cap"`
	Stride             int     `yaml:"stride"`
	SampleCap          int     `yaml:"sample_cap"`
	MinSafeDim         int     `yaml:"min_safe_dim"`
	PatchSize          int     `yaml:"patch_size"`
	FailureProbability float64 `yaml:"failure_probability"`
}

type DriftNoiseConfig struct {
	BatteryStep  float64       `yaml:"battery_step"`
	BatteryTick  time.Duration `yaml:"battery_tick"`
	DeviceErrorP float64       `yaml:"device_error_probability"`
}

type DelayConfig struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
	Cap time.Duration `yaml:"cap"`
}

type FamiliesConfig struct {
	Canvas       bool `yaml:"canvas"`
	Audio        bool `yaml:"audio"`
	Timing       bool `yaml:"timing"`
	WebGL        bool `yaml:"webgl"`
	Navigator    bool `yaml:"navigator"`
	Battery      bool `yaml:"battery"`
	MediaDevices bool `yaml:"media_devices"`
	WebGPU       bool `yaml:"webgpu"`
}

type BrowserConfig struct {
	Headless    bool           `yaml:"headless"`
	ProxyURL    string         `yaml:"proxy_url"`
	UserDataDir string         `yaml:"user_data_dir"`
	Viewport    ViewportConfig `yaml:"viewport"`
}

type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type StorageConfig struct {
	Backend string        `yaml:"backend"` // memory or mongodb
	TTL     time.Duration `yaml:"ttl"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

type MongoDBConfig struct {
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	Collection     string `yaml:"collection"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Seed: SeedConfig{
			Salt:                 "s3cr3t-s4lt",
			RotationWindow:       5 * time.Minute,
			RotationCheck:        30 * time.Second,
			MicroReseedMin:       10 * time.Second,
			MicroReseedMax:       25 * time.Second,
			FallbackOriginMarker: "null://",
			Generator:            prng.Default.String(),
		},
		Noise: NoiseConfig{
			Audio: AudioNoiseConfig{
				BaseSigma:          1e-5,
				SigmaJitter:        0.3,
				PoolSize:           65536,
				FailureProbability: 1e-4,
			},
			Timing: TimingNoiseConfig{
				JitterMaxMs:   0.2,
				DateSkewMaxMs: 80,
			},
			Pixels: PixelNoiseConfig{
				BaseProbability:    0.35,
				MaxShiftBase:       1.0,
				MaxShiftCap:        3.5,
				Stride:             15,
				SampleCap:          5000,
				MinSafeDim:         8,
				PatchSize:          32,
				FailureProbability: 1e-4,
			},
			Drift: DriftNoiseConfig{
				BatteryStep:  0.0025,
				BatteryTick:  5 * time.Second,
				DeviceErrorP: 0.012,
			},
		},
		Delay: DelayConfig{
			Min: 20 * time.Millisecond,
			Max: 180 * time.Millisecond,
			Cap: 2500 * time.Millisecond,
		},
		Families: FamiliesConfig{
			Canvas:       true,
			Audio:        true,
			Timing:       true,
			WebGL:        true,
			Navigator:    true,
			Battery:      true,
			MediaDevices: true,
			WebGPU:       true,
		},
		Browser: BrowserConfig{
			Headless: true,
			Viewport: ViewportConfig{Width: 1366, Height: 768},
		},
		Storage: StorageConfig{
			Backend: "memory",
			TTL:     30 * time.Minute,
			MongoDB: MongoDBConfig{
				Database:       "shield",
				Collection:     "snapshots",
				TimeoutSeconds: 10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file on top of Default and applies environment overrides.
// An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	// Override with environment variables
	if salt := os.Getenv("SHIELD_SALT"); salt != "" {
		config.Seed.Salt = salt
	}
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		config.Storage.MongoDB.URI = uri
	}
	if dbName := os.Getenv("MONGODB_DATABASE"); dbName != "" {
		config.Storage.MongoDB.Database = dbName
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Seed.Salt == "" {
		return errors.New("seed.salt must not be empty")
	}
	if c.Seed.RotationWindow < time.Second {
		return errors.New("seed.rotation_window must be at least 1s")
	}
	if c.Seed.RotationCheck <= 0 || c.Seed.RotationCheck > c.Seed.RotationWindow {
		return errors.New("seed.rotation_check must be positive and not exceed rotation_window")
	}
	if c.Seed.MicroReseedMin <= 0 || c.Seed.MicroReseedMax < c.Seed.MicroReseedMin {
		return errors.New("seed.micro_reseed_max must be >= micro_reseed_min > 0")
	}
	if c.Seed.FallbackOriginMarker == "" {
		c.Seed.FallbackOriginMarker = "null://"
	}
	if _, err := prng.ParseKind(c.Seed.Generator); err != nil {
		return fmt.Errorf("seed.generator: %w", err)
	}

	p := c.Noise.Pixels
	if p.BaseProbability <= 0 || p.BaseProbability > 1 {
		return errors.New("noise.pixels.base_probability must be in (0,1]")
	}
	if p.Stride < 1 {
		return errors.New("noise.pixels.stride must be >= 1")
	}
	if p.PatchSize < 1 {
		return errors.New("noise.pixels.patch_size must be >= 1")
	}
	if p.MaxShiftCap < p.MaxShiftBase {
		return errors.New("noise.pixels.max_shift_cap must be >= max_shift_base")
	}
	if c.Noise.Audio.PoolSize < 2 {
		return errors.New("noise.audio.pool_size must be >= 2")
	}

	if c.Delay.Min < 0 || c.Delay.Max < c.Delay.Min {
		return errors.New("delay.max must be >= delay.min >= 0")
	}
	if c.Delay.Cap <= 0 || c.Delay.Cap < c.Delay.Max {
		return errors.New("delay.cap must be positive and >= delay.max")
	}

	switch c.Storage.Backend {
	case "memory":
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return errors.New("storage.mongodb.uri is required for the mongodb backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.TTL <= c.Seed.RotationWindow {
		// snapshots must outlive a rotation window
		return errors.New("storage.ttl must exceed seed.rotation_window")
	}

	return nil
}
