// Package pagemark augments the EG0008W screen of a third-party web
// application. When a page reaches the target route it shows a one-time
// confirmation dialog and keeps every occurrence of the keyword in the
// page's visible text highlighted, including text rendered later.
//
// An Agent does this for one page lifetime on any Host: the in-memory
// page.Document (tests, offline rendering) or a live Chrome tab
// (internal/live, driven by Service).
//
// Usage:
//
//	doc, _ := page.ParseString(src, "https://host/app/EG0008W")
//	go doc.Run(ctx)
//	a := pagemark.New(pagemark.Feature{})
//	a.Attach(ctx, doc)
//	defer a.Close()
package pagemark

import (
	"github.com/hazyhaar/pagemark/internal/config"
)

// Config is the top-level configuration.
type Config = config.Config

// Feature is what the augmentation looks for and shows.
type Feature = config.FeatureConfig

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig is a tab to open and augment.
type PageConfig = config.PageConfig

// SinkConfig defines an event output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config {
	return config.Default()
}
