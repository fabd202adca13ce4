// Package sanitize removes vendor script and markup blocks that depend on
// the original hosting platform.
package sanitize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Rule decides whether an element must be removed. Rules are independent:
// an element goes if any rule matches it.
type Rule interface {
	Name() string
	Match(s *goquery.Selection) bool
}

// Config holds the substrings the default rules look for.
type Config struct {
	SourceDomains []string `mapstructure:"-"`
	RefreshScript string   `mapstructure:"refresh_script"`
	FrameworkPath string   `mapstructure:"framework_path"`
	AllowScripts  []string `mapstructure:"allow_scripts"`
	InlineMarkers []string `mapstructure:"inline_markers"`
	PixelCall     string   `mapstructure:"pixel_call"`
	PixelPath     string   `mapstructure:"pixel_path"`
}

// DefaultConfig matches the WordPress/Elementor export this tool targets.
func DefaultConfig() Config {
	return Config{
		RefreshScript: "refresh.js",
		FrameworkPath: "wp-includes",
		AllowScripts:  []string{"jquery"},
		InlineMarkers: []string{
			"wp.i18n",
			"wp-i18n",
			"elementorFrontendConfig",
			"ElementorProFrontendConfig",
			"/api/meta-event",
		},
		PixelCall: "fbq(",
		PixelPath: "facebook.com/tr",
	}
}

// DefaultRules builds the rule set from cfg. Rules whose pattern is empty
// are left out.
func DefaultRules(cfg Config) []Rule {
	var rules []Rule
	if cfg.RefreshScript != "" {
		rules = append(rules, scriptSrcRule{name: "refresh-script", contains: cfg.RefreshScript})
	}
	if cfg.FrameworkPath != "" {
		rules = append(rules, scriptSrcRule{name: "framework-script", contains: cfg.FrameworkPath, allow: cfg.AllowScripts})
	}
	if len(cfg.InlineMarkers) > 0 {
		rules = append(rules, inlineScriptRule{name: "global-state-script", markers: cfg.InlineMarkers})
	}
	if cfg.PixelCall != "" {
		rules = append(rules, inlineScriptRule{name: "pixel-script", markers: []string{cfg.PixelCall}})
	}
	if cfg.PixelPath != "" {
		rules = append(rules, pixelNoscriptRule{path: cfg.PixelPath})
	}
	if len(cfg.SourceDomains) > 0 {
		rules = append(rules, preconnectRule{domains: cfg.SourceDomains})
	}
	return rules
}

// scriptSrcRule matches external scripts whose src contains a substring and
// none of the allow-listed names.
type scriptSrcRule struct {
	name     string
	contains string
	allow    []string
}

func (r scriptSrcRule) Name() string { return r.name }

func (r scriptSrcRule) Match(s *goquery.Selection) bool {
	if goquery.NodeName(s) != "script" {
		return false
	}
	src, ok := s.Attr("src")
	if !ok || !strings.Contains(src, r.contains) {
		return false
	}
	lower := strings.ToLower(src)
	for _, a := range r.allow {
		if a != "" && strings.Contains(lower, strings.ToLower(a)) {
			return false
		}
	}
	return true
}

// inlineScriptRule matches scripts without src whose text holds any marker.
type inlineScriptRule struct {
	name    string
	markers []string
}

func (r inlineScriptRule) Name() string { return r.name }

func (r inlineScriptRule) Match(s *goquery.Selection) bool {
	if goquery.NodeName(s) != "script" {
		return false
	}
	if _, ok := s.Attr("src"); ok {
		return false
	}
	text := s.Text()
	for _, m := range r.markers {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// pixelNoscriptRule matches noscript fallbacks that load the tracking pixel.
// The parser keeps noscript content as raw text, so both the text and any
// parsed img descendants are checked.
type pixelNoscriptRule struct {
	path string
}

func (pixelNoscriptRule) Name() string { return "pixel-noscript" }

func (r pixelNoscriptRule) Match(s *goquery.Selection) bool {
	if goquery.NodeName(s) != "noscript" {
		return false
	}
	if strings.Contains(s.Text(), r.path) {
		return true
	}
	found := false
	s.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if src, ok := img.Attr("src"); ok && strings.Contains(src, r.path) {
			found = true
		}
		return !found
	})
	return found
}

// preconnectRule matches <link rel="preconnect"> hints to a source domain.
type preconnectRule struct {
	domains []string
}

func (preconnectRule) Name() string { return "source-preconnect" }

func (r preconnectRule) Match(s *goquery.Selection) bool {
	if goquery.NodeName(s) != "link" {
		return false
	}
	rel, _ := s.Attr("rel")
	isPreconnect := false
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if token == "preconnect" {
			isPreconnect = true
			break
		}
	}
	if !isPreconnect {
		return false
	}
	href, _ := s.Attr("href")
	href = strings.ToLower(href)
	for _, d := range r.domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" && strings.Contains(href, d) {
			return true
		}
	}
	return false
}
