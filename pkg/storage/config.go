package storage

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"mdstore/pkg/confkit"
	"mdstore/pkg/data"
)

// Config describes the set of drives available to the engine and the
// per-stream drive overrides.
type Config struct {
	Default   string                  `yaml:"default"`
	Drives    map[string]*DriveConfig `yaml:"drives"`
	Overrides []OverrideConfig        `yaml:"overrides"`

	// FlushInterval and FlushSize tune the live-record buffer.
	FlushIntervalRaw string        `yaml:"flush_interval"`
	FlushInterval    time.Duration `yaml:"-"`
	FlushSize        int           `yaml:"flush_size"`
}

// DriveConfig configures one drive. Type selects the registered builder
// ("local", "remote"); the remaining fields are interpreted by it.
type DriveConfig struct {
	Type string `yaml:"type"`

	// Local drives.
	Root string `yaml:"root"`

	// Remote drives.
	Endpoint   string `yaml:"endpoint"`
	Token      string `yaml:"token"`
	Format     string `yaml:"format"`
	MaxRetries int    `yaml:"max_retries"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// OverrideConfig routes one stream key to a named drive. Price-valued
// candle arguments (Range span, Renko box, PnF box) can be written either
// as raw scaled units via count or as a decimal price string via price,
// converted with price_scale digits.
type OverrideConfig struct {
	Security   string `yaml:"security"`
	DataType   string `yaml:"data_type"`
	TimeFrame  string `yaml:"time_frame"`
	Count      int64  `yaml:"count"`
	Price      string `yaml:"price"`
	PriceScale uint8  `yaml:"price_scale"`
	Reversal   int64  `yaml:"reversal"`
	Drive      string `yaml:"drive"`
}

// StreamKey resolves the override's stream key.
func (o OverrideConfig) StreamKey() (data.StreamKey, error) {
	sec, err := data.ParseSecurityID(o.Security)
	if err != nil {
		return data.StreamKey{}, err
	}
	dt, err := data.ParseDataTypeName(o.DataType)
	if err != nil {
		return data.StreamKey{}, err
	}
	arg := data.Arg{Count: o.Count, Reversal: o.Reversal}
	if o.Price != "" {
		count, err := parsePriceArg(o.Price, o.PriceScale)
		if err != nil {
			return data.StreamKey{}, fmt.Errorf("storage: override for %s: %w", o.Security, err)
		}
		arg.Count = count
	}
	if o.TimeFrame != "" {
		tf, err := time.ParseDuration(o.TimeFrame)
		if err != nil {
			return data.StreamKey{}, fmt.Errorf("storage: override time_frame %q: %w", o.TimeFrame, err)
		}
		arg.TimeFrame = tf
	}
	return data.StreamKey{Security: sec, Type: dt, Arg: arg}, nil
}

// parsePriceArg converts a decimal price string into scaled units. A zero
// scale falls back to the store default.
func parsePriceArg(price string, scale uint8) (int64, error) {
	if scale == 0 {
		scale = DefaultPriceScale
	}
	return data.ParseScaled(price, scale)
}

// DriveBuilder constructs a Drive from configuration.
type DriveBuilder func(name string, cfg *DriveConfig) (Drive, error)

var (
	driveRegistry   = make(map[string]DriveBuilder)
	driveRegistryMu sync.RWMutex
)

// RegisterDrive registers a drive constructor for a config type name.
func RegisterDrive(typeName string, builder DriveBuilder) {
	driveRegistryMu.Lock()
	defer driveRegistryMu.Unlock()
	driveRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupDriveBuilder(typeName string) (DriveBuilder, bool) {
	driveRegistryMu.RLock()
	defer driveRegistryMu.RUnlock()
	builder, ok := driveRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

func init() {
	RegisterDrive("local", func(name string, cfg *DriveConfig) (Drive, error) {
		return NewLocalDrive(cfg.Root)
	})
}

// LoadConfig reads storage configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open storage config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read storage config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal storage config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Drives == nil {
		c.Drives = make(map[string]*DriveConfig)
	}
	for name, drive := range c.Drives {
		if drive == nil {
			drive = &DriveConfig{}
			c.Drives[name] = drive
		}
		drive.expandEnv()
		if drive.TimeoutRaw != "" {
			d, err := time.ParseDuration(drive.TimeoutRaw)
			if err != nil {
				return fmt.Errorf("storage: drive %s timeout %q: %w", name, drive.TimeoutRaw, err)
			}
			drive.Timeout = d
		}
	}
	if c.FlushIntervalRaw != "" {
		d, err := time.ParseDuration(c.FlushIntervalRaw)
		if err != nil {
			return fmt.Errorf("storage: flush_interval %q: %w", c.FlushIntervalRaw, err)
		}
		c.FlushInterval = d
	}
	return nil
}

func (d *DriveConfig) expandEnv() {
	d.Type = strings.TrimSpace(os.ExpandEnv(d.Type))
	d.Root = strings.TrimSpace(os.ExpandEnv(d.Root))
	d.Endpoint = strings.TrimSpace(os.ExpandEnv(d.Endpoint))
	d.Token = strings.TrimSpace(os.ExpandEnv(d.Token))
	d.Format = strings.TrimSpace(os.ExpandEnv(d.Format))
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if len(c.Drives) == 0 {
		return fmt.Errorf("storage: no drives configured")
	}
	if c.Default == "" {
		return fmt.Errorf("storage: default drive is required")
	}
	if _, ok := c.Drives[c.Default]; !ok {
		return fmt.Errorf("storage: default drive %q not configured", c.Default)
	}
	for name, drive := range c.Drives {
		if _, ok := lookupDriveBuilder(drive.Type); !ok {
			return fmt.Errorf("storage: drive %s has unknown type %q", name, drive.Type)
		}
	}
	for _, o := range c.Overrides {
		if _, ok := c.Drives[o.Drive]; !ok {
			return fmt.Errorf("storage: override for %s references unknown drive %q", o.Security, o.Drive)
		}
		if _, err := o.StreamKey(); err != nil {
			return err
		}
	}
	return nil
}

// BuildDrives constructs every configured drive.
func (c *Config) BuildDrives() (map[string]Drive, error) {
	drives := make(map[string]Drive, len(c.Drives))
	for name, cfg := range c.Drives {
		builder, ok := lookupDriveBuilder(cfg.Type)
		if !ok {
			return nil, fmt.Errorf("storage: drive %s has unknown type %q", name, cfg.Type)
		}
		d, err := builder(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("storage: build drive %s: %w", name, err)
		}
		drives[name] = d
	}
	return drives, nil
}

// BuildRegistry constructs the registry with the default drive and all
// configured overrides applied.
func (c *Config) BuildRegistry(securities data.SecurityProvider) (*Registry, map[string]Drive, error) {
	drives, err := c.BuildDrives()
	if err != nil {
		return nil, nil, err
	}
	registry := NewRegistry(drives[c.Default], securities)
	for _, o := range c.Overrides {
		key, err := o.StreamKey()
		if err != nil {
			return nil, nil, err
		}
		registry.SetOverride(key, drives[o.Drive])
	}
	return registry, drives, nil
}
