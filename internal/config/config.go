// Package config loads pagemark configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hazyhaar/pagemark/dialog"
	"github.com/hazyhaar/pagemark/highlight"
	"github.com/hazyhaar/pagemark/internal/safe"
	"github.com/hazyhaar/pagemark/navwatch"
	"github.com/hazyhaar/pagemark/route"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Pages   []PageConfig  `yaml:"pages"`
	Feature FeatureConfig `yaml:"feature"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	Listen  string        `yaml:"listen"` // status endpoint address, empty disables it
}

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Mode             string        `yaml:"mode"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig is a tab to open and augment.
type PageConfig struct {
	ID      string `yaml:"id"`
	URL     string `yaml:"url"`
	Stealth *bool  `yaml:"stealth"` // default true
}

// StealthEnabled reports whether the tab is opened with stealth evasions.
func (p PageConfig) StealthEnabled() bool {
	return p.Stealth == nil || *p.Stealth
}

// FeatureConfig is what the augmentation looks for and shows.
type FeatureConfig struct {
	Route        string        `yaml:"route"`
	Keyword      string        `yaml:"keyword"`
	PopupID      string        `yaml:"popup_id"`
	MarkerClass  string        `yaml:"marker_class"`
	Title        string        `yaml:"title"`
	Message      string        `yaml:"message"` // HTML, sanitised before use
	ConfirmLabel string        `yaml:"confirm_label"`
	SkipTags     []string      `yaml:"skip_tags"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`
}

// SinkConfig defines an event output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | journal
	URL  string `yaml:"url"`  // webhook
	Path string `yaml:"path"` // journal database file
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	c.Feature.ApplyDefaults()
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page-%d", i+1)
		}
	}
}

func (c *Config) validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	seen := make(map[string]bool)
	for _, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %q: url is required", p.ID)
		}
		if err := safe.HTTPURL(p.URL); err != nil {
			return fmt.Errorf("config: page %q: %w", p.ID, err)
		}
		if err := safe.Identifier(p.ID); err != nil {
			return fmt.Errorf("config: page id: %w", err)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: webhook sink: url is required")
			}
			if err := safe.HTTPURL(s.URL); err != nil {
				return fmt.Errorf("config: webhook sink: %w", err)
			}
		case "journal":
			if s.Path == "" {
				return fmt.Errorf("config: journal sink: path is required")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return nil
}

// ApplyDefaults fills every empty field with the target screen's values.
func (f *FeatureConfig) ApplyDefaults() {
	if f.Route == "" {
		f.Route = route.DefaultKey
	}
	if f.Keyword == "" {
		f.Keyword = highlight.DefaultKeyword
	}
	if f.PopupID == "" {
		f.PopupID = dialog.DefaultID
	}
	if f.MarkerClass == "" {
		f.MarkerClass = highlight.DefaultMarkerClass
	}
	if f.Title == "" {
		f.Title = dialog.DefaultTitle
	}
	if f.Message == "" {
		f.Message = dialog.DefaultMessage
	}
	if f.ConfirmLabel == "" {
		f.ConfirmLabel = dialog.DefaultConfirmLabel
	}
	if len(f.SkipTags) == 0 {
		f.SkipTags = append([]string(nil), highlight.DefaultSkipTags...)
	}
	if f.PollInterval <= 0 {
		f.PollInterval = navwatch.DefaultInterval
	}
	if f.PollAttempts <= 0 {
		f.PollAttempts = navwatch.DefaultMaxAttempts
	}
}
