package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/setanarut/dereflect"
	"github.com/setanarut/dereflect/utils"
	"gopkg.in/yaml.v3"
)

// Config holds server and CLI settings. Suppression holds the defaults used
// when a request or flag does not override them.
type Config struct {
	// Listen address of the HTTP server
	Addr string `yaml:"addr"`
	// Upper bound for multipart uploads, in bytes
	MaxUploadBytes int64 `yaml:"maxUploadBytes"`
	// Larger images are downscaled to fit MaxSide×MaxSide before solving. 0 disables.
	MaxSide uint `yaml:"maxSide"`

	Suppression struct {
		H            float64 `yaml:"h"`
		Lambda       float64 `yaml:"lambda"`
		Mu           float64 `yaml:"mu"`
		Epsilon      float64 `yaml:"epsilon"`
		Workers      int     `yaml:"workers"`
		NormalizeRHS bool    `yaml:"normalizeRhs"`
	} `yaml:"suppression"`

	// Root for per-run debug images. Empty disables debug storage.
	DebugDir string `yaml:"debugDir"`

	Palette struct {
		Size   int    `yaml:"size"`
		Method string `yaml:"method"`
	} `yaml:"palette"`

	Log struct {
		Level string `yaml:"level"`
		Human bool   `yaml:"human"`
	} `yaml:"log"`
}

// Default returns a Config populated with the stock settings.
func Default() Config {
	opt := dereflect.DefaultOptions()
	var c Config
	c.Addr = ":8000"
	c.MaxUploadBytes = 32 << 20
	c.MaxSide = 2048
	c.Suppression.H = opt.H
	c.Suppression.Lambda = opt.Lambda
	c.Suppression.Mu = opt.Mu
	c.Suppression.Epsilon = opt.Epsilon
	c.Suppression.Workers = opt.Workers
	c.Palette.Size = 5
	c.Palette.Method = utils.PaletteMethodDominantColor.String()
	c.Log.Level = "info"
	return c
}

// Load reads a YAML file over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Options converts the suppression section to engine options.
func (c Config) Options() dereflect.Options {
	return dereflect.Options{
		H:            c.Suppression.H,
		Lambda:       c.Suppression.Lambda,
		Mu:           c.Suppression.Mu,
		Epsilon:      c.Suppression.Epsilon,
		Workers:      c.Suppression.Workers,
		NormalizeRHS: c.Suppression.NormalizeRHS,
	}
}

// PaletteMethod parses Palette.Method.
func (c Config) PaletteMethod() (utils.PaletteMethod, error) {
	return utils.ParsePaletteMethod(c.Palette.Method)
}

// LogLevel parses Log.Level; an empty level means info.
func (c Config) LogLevel() (zerolog.Level, error) {
	if c.Log.Level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(c.Log.Level)
}

func (c Config) Validate() error {
	if err := c.Options().Validate(); err != nil {
		return err
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: maxUploadBytes must be positive", dereflect.ErrInvalidParameter)
	}
	if c.Palette.Size < 0 {
		return fmt.Errorf("%w: palette size must not be negative", dereflect.ErrInvalidParameter)
	}
	if _, err := c.PaletteMethod(); err != nil {
		return fmt.Errorf("%w: %v", dereflect.ErrInvalidParameter, err)
	}
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("%w: %v", dereflect.ErrInvalidParameter, err)
	}
	return nil
}
