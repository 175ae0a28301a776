package syncer

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mdstore/pkg/confkit"
	"mdstore/pkg/data"
	"mdstore/pkg/storage"
	"mdstore/pkg/storage/remote"
)

// Config describes one sync target: the central server and what to pull
// from it.
type Config struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
	Format   string `yaml:"format"`

	Pattern    string           `yaml:"pattern"`
	DataTypes  []DataTypeConfig `yaml:"data_types"`
	LocalRoot  string           `yaml:"local_root"`
	JournalDir string           `yaml:"journal_dir"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
	MaxRetries int           `yaml:"max_retries"`
}

// DataTypeConfig restricts a session to one data type and argument.
// Price-valued candle arguments accept a decimal price string converted
// with price_scale digits, next to the raw scaled-unit count form.
type DataTypeConfig struct {
	DataType   string `yaml:"data_type"`
	TimeFrame  string `yaml:"time_frame"`
	Count      int64  `yaml:"count"`
	Price      string `yaml:"price"`
	PriceScale uint8  `yaml:"price_scale"`
	Reversal   int64  `yaml:"reversal"`
}

// TypeArg resolves the configured pair.
func (d DataTypeConfig) TypeArg() (data.TypeArg, error) {
	dt, err := data.ParseDataTypeName(d.DataType)
	if err != nil {
		return data.TypeArg{}, err
	}
	arg := data.Arg{Count: d.Count, Reversal: d.Reversal}
	if d.Price != "" {
		scale := d.PriceScale
		if scale == 0 {
			scale = storage.DefaultPriceScale
		}
		count, err := data.ParseScaled(d.Price, scale)
		if err != nil {
			return data.TypeArg{}, fmt.Errorf("sync: data type %s: %w", d.DataType, err)
		}
		arg.Count = count
	}
	if d.TimeFrame != "" {
		tf, err := time.ParseDuration(d.TimeFrame)
		if err != nil {
			return data.TypeArg{}, fmt.Errorf("sync: data type time_frame %q: %w", d.TimeFrame, err)
		}
		arg.TimeFrame = tf
	}
	return data.TypeArg{Type: dt, Arg: arg}, nil
}

// LoadConfig reads sync configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sync config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read sync config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal sync config: %w", err)
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
	c.Endpoint = strings.TrimSpace(os.ExpandEnv(c.Endpoint))
	c.Token = strings.TrimSpace(os.ExpandEnv(c.Token))
	c.Format = strings.TrimSpace(os.ExpandEnv(c.Format))
	c.Pattern = strings.TrimSpace(os.ExpandEnv(c.Pattern))
	c.LocalRoot = strings.TrimSpace(os.ExpandEnv(c.LocalRoot))
	c.JournalDir = strings.TrimSpace(os.ExpandEnv(c.JournalDir))
	if c.TimeoutRaw != "" {
		d, err := time.ParseDuration(c.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("sync: timeout %q: %w", c.TimeoutRaw, err)
		}
		c.Timeout = d
	}
	return nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("sync: endpoint is required")
	}
	if c.LocalRoot == "" {
		return fmt.Errorf("sync: local_root is required")
	}
	for _, d := range c.DataTypes {
		if _, err := d.TypeArg(); err != nil {
			return err
		}
	}
	return nil
}

// BuildRemote constructs the remote client for the configured server.
func (c *Config) BuildRemote() *remote.Client {
	opts := []remote.Option{remote.WithToken(c.Token)}
	if c.Format != "" {
		opts = append(opts, remote.WithFormat(remote.Format(c.Format)))
	}
	if c.MaxRetries > 0 {
		opts = append(opts, remote.WithMaxRetries(c.MaxRetries))
	}
	if c.Timeout > 0 {
		opts = append(opts, remote.WithHTTPClient(&http.Client{Timeout: c.Timeout}))
	}
	return remote.NewClient(c.Endpoint, opts...)
}

// BuildTypes resolves the configured data type restrictions.
func (c *Config) BuildTypes() ([]data.TypeArg, error) {
	types := make([]data.TypeArg, 0, len(c.DataTypes))
	for _, d := range c.DataTypes {
		ta, err := d.TypeArg()
		if err != nil {
			return nil, err
		}
		types = append(types, ta)
	}
	return types, nil
}
