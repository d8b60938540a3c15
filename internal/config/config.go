// Package config loads the application settings file.
//
// Every setting has a default; a YAML file overrides the ones it names and
// command line flags override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/roach88/unisync/internal/monitor"
)

// Defaults.
const (
	DefaultPort        = 8000
	DefaultScreensDir  = "screens"
	DefaultDBPath      = "unisync.db"
	DefaultAutotestDir = "autotest"
	DefaultMonitorTick = 5 * time.Millisecond
	DefaultAppName     = "Unisync app"
	DefaultLang        = "en"
	DefaultLimit       = 100
)

// Names is a list of file names; a bare "*" in YAML means every file.
type Names []string

// UnmarshalYAML accepts a scalar or a sequence.
func (n *Names) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*n = nil
		if s != "" {
			*n = Names{s}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*n = list
		return nil
	}
	return fmt.Errorf("line %d: autotest must be a file name, a list or \"*\"", node.Line)
}

// Config is the application configuration.
type Config struct {
	Port        int    `yaml:"port"`
	ScreensDir  string `yaml:"screens_dir"`
	DBPath      string `yaml:"db_path"`
	AutotestDir string `yaml:"autotest_dir"`
	// Autotest names the scenarios checked at startup.
	Autotest Names `yaml:"autotest"`

	// Share lets a client join another session with ?share=<id>.
	Share bool `yaml:"share"`
	// Mirror joins every new client to the last session.
	Mirror bool `yaml:"mirror"`

	FrozeTime   time.Duration `yaml:"froze_time"`
	MonitorTick time.Duration `yaml:"monitor_tick"`
	Profile     time.Duration `yaml:"profile"`
	// Pool is the number of workers for offloaded handlers; 0 disables it.
	Pool int `yaml:"pool"`

	Logfile      string `yaml:"logfile"`
	AppName      string `yaml:"appname"`
	Lang         string `yaml:"lang"`
	DefaultLimit int    `yaml:"default_limit"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:         DefaultPort,
		ScreensDir:   DefaultScreensDir,
		DBPath:       DefaultDBPath,
		AutotestDir:  DefaultAutotestDir,
		MonitorTick:  DefaultMonitorTick,
		AppName:      DefaultAppName,
		Lang:         DefaultLang,
		DefaultLimit: DefaultLimit,
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and the language tag.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("default_limit must be positive, got %d", c.DefaultLimit))
	}
	if c.Pool < 0 {
		errs = append(errs, fmt.Errorf("pool must not be negative, got %d", c.Pool))
	}
	if c.FrozeTime > 0 && c.MonitorTick <= 0 {
		errs = append(errs, errors.New("froze_time needs a positive monitor_tick"))
	}
	if _, err := language.Parse(c.Lang); err != nil {
		errs = append(errs, fmt.Errorf("lang %q: %w", c.Lang, err))
	}
	return errors.Join(errs...)
}

// Language returns the parsed lang tag, language.Und when it is invalid.
func (c *Config) Language() language.Tag {
	tag, err := language.Parse(c.Lang)
	if err != nil {
		return language.Und
	}
	return tag
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Watchdog returns the watchdog timings.
func (c *Config) Watchdog() monitor.Config {
	return monitor.Config{Tick: c.MonitorTick, FrozeTime: c.FrozeTime, Profile: c.Profile}
}
