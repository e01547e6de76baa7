package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/pagemark/highlight"
	"github.com/hazyhaar/pagemark/route"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`pages: [{url: "https://host.test/app"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.Mode != "headless" || cfg.Browser.RecycleInterval != 4*time.Hour {
		t.Errorf("browser defaults: got %+v", cfg.Browser)
	}
	f := cfg.Feature
	if f.Route != route.DefaultKey || f.Keyword != highlight.DefaultKeyword {
		t.Errorf("feature defaults: got route=%q keyword=%q", f.Route, f.Keyword)
	}
	if f.PollInterval != 500*time.Millisecond || f.PollAttempts != 50 {
		t.Errorf("poll defaults: got %v/%d", f.PollInterval, f.PollAttempts)
	}
	if cfg.Pages[0].ID != "page-1" || !cfg.Pages[0].StealthEnabled() {
		t.Errorf("page defaults: got %+v", cfg.Pages[0])
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagemark.yaml")
	src := `
browser:
  mode: headful
  resource_blocking: [images, fonts]
pages:
  - id: kyuyo
    url: https://host.test/app/EG0008W
    stealth: false
feature:
  keyword: 設定
  poll_interval: 1s
  skip_tags: [script]
sinks:
  - type: stdout
  - type: journal
    path: /tmp/j.db
listen: 127.0.0.1:8088
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.Mode != "headful" || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("browser: got %+v", cfg.Browser)
	}
	if cfg.Pages[0].StealthEnabled() {
		t.Error("stealth: false not honoured")
	}
	if cfg.Feature.Keyword != "設定" || cfg.Feature.PollInterval != time.Second {
		t.Errorf("feature: got %+v", cfg.Feature)
	}
	if len(cfg.Feature.SkipTags) != 1 {
		t.Errorf("skip tags: got %v", cfg.Feature.SkipTags)
	}
	if cfg.Listen != "127.0.0.1:8088" || len(cfg.Sinks) != 2 {
		t.Errorf("listen/sinks: got %q %v", cfg.Listen, cfg.Sinks)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bad mode", `browser: {mode: windowed}`},
		{"missing url", `pages: [{id: a}]`},
		{"duplicate id", `pages: [{id: a, url: "https://x.test"}, {id: a, url: "https://y.test"}]`},
		{"page url scheme", `pages: [{id: a, url: "file:///tmp/x.html"}]`},
		{"page id with slash", `pages: [{id: a/b, url: "https://x.test"}]`},
		{"webhook scheme", `sinks: [{type: webhook, url: "ftp://x.test"}]`},
		{"webhook without url", `sinks: [{type: webhook}]`},
		{"journal without path", `sinks: [{type: journal}]`},
		{"unknown sink", `sinks: [{type: nats}]`},
		{"bad yaml", `pages: [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.src)); err == nil {
				t.Error("want error")
			}
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("want error")
	}
}
