// Package config loads and validates localizer configuration via Viper.
package config

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/pagelocalizer/internal/assets"
	collyfetcher "github.com/JakeFAU/pagelocalizer/internal/fetcher/colly"
	"github.com/JakeFAU/pagelocalizer/internal/inject"
	"github.com/JakeFAU/pagelocalizer/internal/layout"
	"github.com/JakeFAU/pagelocalizer/internal/ratelimit"
	"github.com/JakeFAU/pagelocalizer/internal/rewrite"
	"github.com/JakeFAU/pagelocalizer/internal/sanitize"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	Source   SourceConfig          `mapstructure:"source"`
	Assets   AssetsConfig          `mapstructure:"assets"`
	CDN      []rewrite.CDNTemplate `mapstructure:"cdn"`
	Fetch    FetchConfig           `mapstructure:"fetch"`
	Sanitize sanitize.Config       `mapstructure:"sanitize"`
	Tracking inject.TrackingConfig `mapstructure:"tracking"`
	Layout   layout.Config         `mapstructure:"layout"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Serve    ServeConfig           `mapstructure:"serve"`
}

// SourceConfig identifies the host the page was scraped from.
type SourceConfig struct {
	Domains      []string `mapstructure:"domains"`
	UploadMarker string   `mapstructure:"upload_marker"`
}

// AssetsConfig names the local asset directories, relative to the output
// page.
type AssetsConfig struct {
	FontsDir  string `mapstructure:"fonts_dir"`
	ImagesDir string `mapstructure:"images_dir"`
}

// FetchConfig configures asset downloads.
type FetchConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Accept         string        `mapstructure:"accept"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	PerHostRPS     float64       `mapstructure:"per_host_rps"`
	Burst          int           `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServeConfig controls the preview server.
type ServeConfig struct {
	Port int    `mapstructure:"port"`
	Dir  string `mapstructure:"dir"`
}

// FlagBinding overrides a config key with a command-line flag when the flag
// is set.
type FlagBinding struct {
	Key  string
	Flag *pflag.Flag
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Load builds a Config from defaults, the optional file at path, LOCALIZER_*
// environment variables and flag bindings, in increasing priority.
func Load(path string, bindings ...FlagBinding) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOCALIZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, b := range bindings {
		if b.Flag == nil {
			continue
		}
		if err := v.BindPFlag(b.Key, b.Flag); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", b.Flag.Name, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if !v.IsSet("cdn") {
		cfg.CDN = defaultCDN()
	}
	if !v.IsSet("layout") {
		cfg.Layout = layout.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	sanitizeDefaults := sanitize.DefaultConfig()

	v.SetDefault("source.domains", []string{})
	v.SetDefault("source.upload_marker", "wp-content/uploads")
	v.SetDefault("assets.fonts_dir", "fonts")
	v.SetDefault("assets.images_dir", "images")
	v.SetDefault("fetch.user_agent", defaultUserAgent)
	v.SetDefault("fetch.accept", "*/*")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.backoff_initial", "250ms")
	v.SetDefault("fetch.backoff_max", "5s")
	v.SetDefault("fetch.max_body_bytes", 25*1024*1024)
	v.SetDefault("fetch.per_host_rps", 4.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("sanitize.refresh_script", sanitizeDefaults.RefreshScript)
	v.SetDefault("sanitize.framework_path", sanitizeDefaults.FrameworkPath)
	v.SetDefault("sanitize.allow_scripts", sanitizeDefaults.AllowScripts)
	v.SetDefault("sanitize.inline_markers", sanitizeDefaults.InlineMarkers)
	v.SetDefault("sanitize.pixel_call", sanitizeDefaults.PixelCall)
	v.SetDefault("sanitize.pixel_path", sanitizeDefaults.PixelPath)
	v.SetDefault("tracking.pixel_id", "")
	v.SetDefault("tracking.engaged_after", "20s")
	v.SetDefault("tracking.checkout_selector", `a[href*="braip.com/checkout"]`)
	v.SetDefault("tracking.disclaimer", "Este site não é afiliado ao Facebook ou à Meta Inc.")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.dir", ".")
}

func defaultCDN() []rewrite.CDNTemplate {
	return []rewrite.CDNTemplate{
		{
			Name:     "font-awesome",
			Patterns: []string{"fa-solid", "fa-regular", "fa-brands"},
			BaseURL:  "https://cdnjs.cloudflare.com/ajax/libs/font-awesome/5.15.4/webfonts/",
		},
		{
			Name:     "eicons",
			Patterns: []string{"eicons"},
			BaseURL:  "https://cdn.jsdelivr.net/gh/elementor/elementor@3.27.0/assets/lib/eicons/fonts/",
		},
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(nonEmpty(c.Source.Domains)) == 0 {
		return fmt.Errorf("source.domains must list at least one domain")
	}
	if err := validateAssetDir("assets.fonts_dir", c.Assets.FontsDir); err != nil {
		return err
	}
	if err := validateAssetDir("assets.images_dir", c.Assets.ImagesDir); err != nil {
		return err
	}
	for i, tmpl := range c.CDN {
		if !strings.HasPrefix(tmpl.BaseURL, "https://") && !strings.HasPrefix(tmpl.BaseURL, "http://") {
			return fmt.Errorf("cdn[%d].base_url must be an http(s) URL", i)
		}
		if len(nonEmpty(tmpl.Patterns)) == 0 {
			return fmt.Errorf("cdn[%d].patterns must not be empty", i)
		}
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	if c.Fetch.MaxBodyBytes < 0 {
		return fmt.Errorf("fetch.max_body_bytes must be >= 0")
	}
	if c.Fetch.PerHostRPS < 0 || c.Fetch.Burst < 0 {
		return fmt.Errorf("fetch.per_host_rps and fetch.burst must be >= 0")
	}
	if id := c.Tracking.PixelID; id != "" && strings.Trim(id, "0123456789") != "" {
		return fmt.Errorf("tracking.pixel_id must be numeric")
	}
	if c.Tracking.EngagedAfter < 0 {
		return fmt.Errorf("tracking.engaged_after must be >= 0")
	}
	if c.Serve.Port <= 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port must be between 1 and 65535")
	}
	return nil
}

func validateAssetDir(key, dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	if filepath.IsAbs(dir) || strings.HasPrefix(dir, "/") {
		return fmt.Errorf("%s must be relative to the output page", key)
	}
	clean := path.Clean(filepath.ToSlash(dir))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%s must stay inside the output directory", key)
	}
	return nil
}

// RewriteConfig returns the rewriter settings.
func (c Config) RewriteConfig() rewrite.Config {
	return rewrite.Config{
		SourceDomains: nonEmpty(c.Source.Domains),
		UploadMarker:  c.Source.UploadMarker,
		FontsDir:      c.Assets.FontsDir,
		ImagesDir:     c.Assets.ImagesDir,
		CDN:           c.CDN,
	}
}

// SanitizeConfig returns the sanitizer settings with the source domains
// filled in.
func (c Config) SanitizeConfig() sanitize.Config {
	out := c.Sanitize
	out.SourceDomains = nonEmpty(c.Source.Domains)
	return out
}

// FetcherConfig returns the asset fetcher settings.
func (c Config) FetcherConfig() assets.Config {
	return assets.Config{
		UserAgent: c.Fetch.UserAgent,
		Accept:    c.Fetch.Accept,
		Timeout:   c.Fetch.Timeout,
	}
}

// DownloaderConfig returns the colly downloader settings.
func (c Config) DownloaderConfig() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:    c.Fetch.UserAgent,
		Timeout:      c.Fetch.Timeout,
		MaxBodyBytes: c.Fetch.MaxBodyBytes,
		Referer:      c.RewriteConfig().Origin() + "/",
	}
}

// RateLimitConfig returns the per-host download limiter settings.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{PerHostRPS: c.Fetch.PerHostRPS, Burst: c.Fetch.Burst}
}

// RetryPolicy builds the download retry policy.
func (c Config) RetryPolicy() *assets.ExponentialRetryPolicy {
	return assets.NewExponentialRetryPolicy(c.Fetch.MaxRetries, c.Fetch.BackoffInitial, c.Fetch.BackoffMax)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
