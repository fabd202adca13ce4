package rewrite

import (
	"regexp"
	"strings"
)

// Config selects the source domains and local directories the default rule
// list is built from.
type Config struct {
	SourceDomains []string
	UploadMarker  string
	FontsDir      string
	ImagesDir     string
	CDN           []CDNTemplate
}

// Origin is the base used to resolve rooted paths: the first source domain
// over https.
func (c Config) Origin() string {
	for _, d := range c.SourceDomains {
		if d = strings.TrimSpace(d); d != "" {
			return "https://" + d
		}
	}
	return ""
}

// Rewriter runs references through an ordered rule list.
type Rewriter struct {
	rules []Rule
}

var (
	cssURLPattern = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^)"']*?))\s*\)`)
	// Quoted protocol-relative or absolute http(s) URLs inside inline scripts.
	scriptURLPattern = regexp.MustCompile(`'((?:https?:)?//[^'\s]+)'|"((?:https?:)?//[^"\s]+)"`)
)

// New builds the default rule order: CDN substitutions first so a matching
// font name is never downloaded, then local fonts, then local images.
func New(cfg Config) *Rewriter {
	rules := make([]Rule, 0, len(cfg.CDN)+2)
	for _, tmpl := range cfg.CDN {
		rules = append(rules, NewCDNFontRule(tmpl, cfg.SourceDomains))
	}
	rules = append(rules,
		NewLocalFontRule(cfg.FontsDir, cfg.SourceDomains),
		NewLocalImageRule(cfg.ImagesDir, cfg.SourceDomains, cfg.UploadMarker, cfg.Origin()),
	)
	return NewWithRules(rules...)
}

// NewWithRules builds a Rewriter evaluating rules in the given order.
func NewWithRules(rules ...Rule) *Rewriter {
	return &Rewriter{rules: append([]Rule(nil), rules...)}
}

// Rules returns the rule names in evaluation order.
func (r *Rewriter) Rules() []string {
	names := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		names = append(names, rule.Name())
	}
	return names
}

// Rewrite returns the replacement for a single reference. Unmatched
// references come back unchanged with Matched=false.
func (r *Rewriter) Rewrite(raw string, ctx Context) Outcome {
	ref := ParseReference(raw)
	if ref.Filename == "" {
		return Outcome{Value: raw}
	}
	for _, rule := range r.rules {
		if !rule.Match(ref, ctx) {
			continue
		}
		out := rule.Apply(ref)
		out.Rule = rule.Name()
		out.Matched = true
		if out.Fetch != nil {
			out.Fetch.Rule = out.Rule
		}
		if out.Redirect != nil {
			out.Redirect.Rule = out.Rule
		}
		return out
	}
	return Outcome{Value: raw}
}

// Edit is the result of rewriting a block of text that may hold several
// references.
type Edit struct {
	Value     string
	Changed   bool
	Rules     []string
	Fetches   []Fetch
	Redirects []Fetch
}

func (e *Edit) record(out Outcome) {
	if !out.Matched {
		return
	}
	e.Rules = append(e.Rules, out.Rule)
	if out.Fetch != nil {
		e.Fetches = append(e.Fetches, *out.Fetch)
	}
	if out.Redirect != nil {
		e.Redirects = append(e.Redirects, *out.Redirect)
	}
}

// RewriteCSS rewrites every url(...) in text. Replaced values are written
// unquoted unless they contain characters that need quoting; untouched
// matches are preserved byte for byte.
func (r *Rewriter) RewriteCSS(text string, ctx Context) Edit {
	edit := Edit{Value: text}
	if !strings.Contains(strings.ToLower(text), "url(") {
		return edit
	}
	edit.Value = cssURLPattern.ReplaceAllStringFunc(text, func(match string) string {
		raw := cssURLValue(match)
		out := r.Rewrite(raw, ctx)
		edit.record(out)
		if !out.Matched || out.Value == ParseReference(raw).Raw {
			return match
		}
		edit.Changed = true
		return "url(" + cssQuote(out.Value) + ")"
	})
	return edit
}

// RewriteSrcset rewrites each candidate URL of a srcset list and reattaches
// its descriptor. When no candidate changes the value is returned verbatim.
func (r *Rewriter) RewriteSrcset(value string) Edit {
	edit := Edit{Value: value}
	candidates := parseSrcset(value)
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		res := r.Rewrite(c.url, ContextSrcset)
		edit.record(res)
		if res.Matched && res.Value != c.url {
			edit.Changed = true
		}
		if c.descriptor != "" {
			out = append(out, res.Value+" "+c.descriptor)
		} else {
			out = append(out, res.Value)
		}
	}
	if edit.Changed {
		edit.Value = strings.Join(out, ", ")
	}
	return edit
}

type srcsetCandidate struct {
	url        string
	descriptor string
}

// parseSrcset splits a srcset value the way browsers do: a URL runs to the
// next whitespace, so commas inside it stay part of it. Trailing commas end
// the candidate; otherwise the descriptor runs to the next comma.
func parseSrcset(value string) []srcsetCandidate {
	var out []srcsetCandidate
	i := 0
	for i < len(value) {
		for i < len(value) && (isHTMLSpace(value[i]) || value[i] == ',') {
			i++
		}
		if i >= len(value) {
			break
		}
		start := i
		for i < len(value) && !isHTMLSpace(value[i]) {
			i++
		}
		url := value[start:i]
		trimmed := strings.TrimRight(url, ",")
		c := srcsetCandidate{url: trimmed}
		if trimmed == url {
			descStart := i
			for i < len(value) && value[i] != ',' {
				i++
			}
			c.descriptor = strings.TrimSpace(value[descStart:i])
		}
		if c.url != "" {
			out = append(out, c)
		}
	}
	return out
}

func isHTMLSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

// RewriteAttribute rewrites a single-reference attribute value. Values in
// the lazy-load form url(...) are rewritten like CSS.
func (r *Rewriter) RewriteAttribute(value string) Edit {
	if strings.Contains(strings.ToLower(value), "url(") {
		return r.RewriteCSS(value, ContextAttribute)
	}
	edit := Edit{Value: value}
	out := r.Rewrite(value, ContextAttribute)
	edit.record(out)
	if out.Matched && out.Value != value {
		edit.Value = out.Value
		edit.Changed = true
	}
	return edit
}

// RewriteScript rewrites quoted absolute URLs inside inline script text, such
// as a preloader assigning img.src.
func (r *Rewriter) RewriteScript(text string) Edit {
	edit := Edit{Value: text}
	if !strings.Contains(text, "//") {
		return edit
	}
	edit.Value = scriptURLPattern.ReplaceAllStringFunc(text, func(match string) string {
		quote := match[:1]
		raw := match[1 : len(match)-1]
		out := r.Rewrite(raw, ContextScript)
		edit.record(out)
		if !out.Matched || out.Value == raw {
			return match
		}
		edit.Changed = true
		return quote + out.Value + quote
	})
	return edit
}

// Scan reports the font fetches every url(...) in text would trigger,
// without rewriting anything.
func (r *Rewriter) Scan(text string) []Fetch {
	var fetches []Fetch
	for _, m := range cssURLPattern.FindAllString(text, -1) {
		out := r.Rewrite(cssURLValue(m), ContextStyleBlock)
		if out.Fetch != nil && out.Fetch.Kind == KindFont {
			fetches = append(fetches, *out.Fetch)
		}
	}
	return fetches
}

func cssURLValue(match string) string {
	sub := cssURLPattern.FindStringSubmatch(match)
	for _, g := range sub[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func cssQuote(value string) string {
	if strings.ContainsAny(value, " \t\n()'\"") {
		return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
	}
	return value
}
