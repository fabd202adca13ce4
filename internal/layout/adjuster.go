// Package layout applies small, idempotent inline-style patches to known
// page elements (trust seals, guarantee badge, call-to-action buttons).
package layout

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// ImageRule styles images whose src contains any Match substring and no
// Exclude substring. ParentStyle goes to the image's parent div or figure.
type ImageRule struct {
	Name        string   `mapstructure:"name"`
	Match       []string `mapstructure:"match"`
	Exclude     []string `mapstructure:"exclude"`
	ImageStyle  string   `mapstructure:"image_style"`
	ParentStyle string   `mapstructure:"parent_style"`
}

// LinkRule styles the closest WrapperClass ancestor of matching links, or
// the link itself with FallbackStyle when there is no such ancestor.
type LinkRule struct {
	Name          string   `mapstructure:"name"`
	HrefContains  []string `mapstructure:"href_contains"`
	TextContains  []string `mapstructure:"text_contains"`
	WrapperClass  string   `mapstructure:"wrapper_class"`
	Style         string   `mapstructure:"style"`
	FallbackStyle string   `mapstructure:"fallback_style"`
}

// Config lists the rules.
type Config struct {
	Images []ImageRule `mapstructure:"images"`
	Links  []LinkRule  `mapstructure:"links"`
}

// DefaultConfig returns the fixes for the sales page this tool was built for.
func DefaultConfig() Config {
	return Config{
		Images: []ImageRule{
			{
				Name:        "seal-size",
				Match:       []string{"sl_anvisa", "ra_selo"},
				ImageStyle:  "height: 90px !important; width: auto !important; object-fit: contain;",
				ParentStyle: "display: flex; justify-content: center; align-items: center;",
			},
			{
				Name:        "guarantee-center",
				Match:       []string{"garantia"},
				Exclude:     []string{"pote"},
				ImageStyle:  "display: block !important; margin: 0 auto !important; text-align: center;",
				ParentStyle: "text-align: center !important; width: 100% !important;",
			},
			{
				Name:        "seal-center",
				Match:       []string{"selo"},
				Exclude:     []string{"pote"},
				ImageStyle:  "display: block; margin: 0 auto;",
				ParentStyle: "text-align: center; width: 100%;",
			},
		},
		Links: []LinkRule{
			{
				Name:          "cta-spacing",
				HrefContains:  []string{"braip.com"},
				TextContains:  []string{"EXPERIMENTAR"},
				WrapperClass:  "elementor-widget-button",
				Style:         "margin-bottom: 30px !important;",
				FallbackStyle: "margin-bottom: 30px !important; display: inline-block;",
			},
		},
	}
}

// Patch is one style declaration block scheduled for an element.
type Patch struct {
	Rule  string
	Style string
	node  *html.Node
}

// Plan is the read-only result of evaluating the rules.
type Plan struct {
	Patches []Patch
}

// Adjuster evaluates layout rules.
type Adjuster struct {
	cfg    Config
	logger *zap.Logger
}

// New returns an Adjuster for cfg.
func New(cfg Config, logger *zap.Logger) *Adjuster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adjuster{cfg: cfg, logger: logger}
}

// Plan collects patches without mutating the document.
func (a *Adjuster) Plan(doc *goquery.Document) Plan {
	var plan Plan
	for i, rule := range a.cfg.Images {
		name := ruleName(rule.Name, "image", i)
		doc.Find("img").Each(func(_ int, img *goquery.Selection) {
			src := strings.ToLower(img.AttrOr("src", ""))
			if !containsAny(src, rule.Match) || containsAny(src, rule.Exclude) {
				return
			}
			plan.add(name, rule.ImageStyle, img.Get(0))
			if parent := img.Parent(); parent.Is("div, figure") {
				plan.add(name, rule.ParentStyle, parent.Get(0))
			}
		})
	}
	for i, rule := range a.cfg.Links {
		name := ruleName(rule.Name, "link", i)
		doc.Find("a").Each(func(_ int, link *goquery.Selection) {
			href := strings.ToLower(link.AttrOr("href", ""))
			text := strings.ToLower(link.Text())
			if !containsAny(href, rule.HrefContains) && !containsAny(text, rule.TextContains) {
				return
			}
			if rule.WrapperClass != "" {
				wrapper := link.ParentsFiltered(`[class*="` + rule.WrapperClass + `"]`).First()
				if wrapper.Length() > 0 {
					plan.add(name, rule.Style, wrapper.Get(0))
					return
				}
			}
			fallback := rule.FallbackStyle
			if fallback == "" {
				fallback = rule.Style
			}
			plan.add(name, fallback, link.Get(0))
		})
	}
	return plan
}

// Apply appends each planned block to its element's style attribute unless
// the block is already there. It returns the number of attributes changed.
func (a *Adjuster) Apply(plan Plan) int {
	changed := 0
	for _, p := range plan.Patches {
		current := styleOf(p.node)
		next := AppendStyle(current, p.Style)
		if next == current {
			continue
		}
		setStyle(p.node, next)
		changed++
		a.logger.Debug("style patched", zap.String("rule", p.Rule), zap.String("tag", p.node.Data))
	}
	return changed
}

// Adjust plans and applies in one call.
func (a *Adjuster) Adjust(doc *goquery.Document) Plan {
	plan := a.Plan(doc)
	a.Apply(plan)
	return plan
}

// AppendStyle appends a declaration block to an inline style, separated by
// "; ". It is a no-op when the block is empty or already present.
func AppendStyle(style, block string) string {
	block = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(block), ";"))
	if block == "" || strings.Contains(style, block) {
		return style
	}
	base := strings.TrimRight(strings.TrimSpace(style), "; ")
	if base == "" {
		return block
	}
	return base + "; " + block
}

func (p *Plan) add(rule, style string, node *html.Node) {
	if strings.TrimSpace(style) == "" || node == nil {
		return
	}
	p.Patches = append(p.Patches, Patch{Rule: rule, Style: style, node: node})
}

func ruleName(name, kind string, i int) string {
	if name != "" {
		return name
	}
	return kind + "-" + strconv.Itoa(i)
}

func styleOf(n *html.Node) string {
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == "style" {
			return attr.Val
		}
	}
	return ""
}

func setStyle(n *html.Node, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == "style" {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "style", Val: val})
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub = strings.ToLower(strings.TrimSpace(sub)); sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
