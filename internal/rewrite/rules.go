package rewrite

import (
	"path"
	"strings"
)

// Rule is one predicate+template pair. Rules never perform I/O; a rule that
// wants an asset on disk describes it in Outcome.Fetch.
type Rule interface {
	Name() string
	Match(ref Reference, ctx Context) bool
	Apply(ref Reference) Outcome
}

// Fetch describes an asset that must exist locally for a rewritten reference
// to resolve.
type Fetch struct {
	URL      string
	Target   string
	Filename string
	Kind     Kind
	Rule     string
}

// Outcome is the result of running a reference through the rule list.
type Outcome struct {
	Value   string
	Rule    string
	Matched bool
	Fetch   *Fetch

	// Redirect names the asset a CDN substitution made unnecessary.
	Redirect *Fetch
}

// CDNTemplate maps filename patterns of a third-party font library to the
// public CDN directory that serves the same files.
type CDNTemplate struct {
	Name     string   `mapstructure:"name"`
	Patterns []string `mapstructure:"patterns"`
	BaseURL  string   `mapstructure:"base_url"`
}

type cdnFontRule struct {
	tmpl    CDNTemplate
	domains []string
}

// NewCDNFontRule swaps source-domain fonts whose filename matches tmpl for
// the CDN copy. It never asks for a fetch.
func NewCDNFontRule(tmpl CDNTemplate, domains []string) Rule {
	return &cdnFontRule{tmpl: tmpl, domains: domains}
}

func (r *cdnFontRule) Name() string {
	if r.tmpl.Name == "" {
		return "cdn-font"
	}
	return "cdn-font:" + r.tmpl.Name
}

func (r *cdnFontRule) Match(ref Reference, _ Context) bool {
	if !ref.IsFont() || !ref.FromHost(r.domains) {
		return false
	}
	stem := strings.ToLower(ref.Stem())
	for _, p := range r.tmpl.Patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(stem, p) {
			return true
		}
	}
	return false
}

func (r *cdnFontRule) Apply(ref Reference) Outcome {
	base := r.tmpl.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return Outcome{
		Value:    base + ref.Filename,
		Redirect: &Fetch{URL: ref.Raw, Filename: ref.LocalName(), Kind: KindFont},
	}
}

type localFontRule struct {
	dir     string
	domains []string
}

// NewLocalFontRule relocates source-domain fonts to ./<dir>/<filename>.
func NewLocalFontRule(dir string, domains []string) Rule {
	return &localFontRule{dir: cleanDir(dir), domains: domains}
}

func (r *localFontRule) Name() string { return "local-font" }

func (r *localFontRule) Match(ref Reference, _ Context) bool {
	return ref.IsFont() && ref.Filename != "" && ref.FromHost(r.domains)
}

func (r *localFontRule) Apply(ref Reference) Outcome {
	return localOutcome(ref, r.dir, KindFont, "")
}

type localImageRule struct {
	dir          string
	domains      []string
	uploadMarker string
	origin       string
}

// NewLocalImageRule relocates images hosted on a source domain, or any
// absolute or rooted image path containing uploadMarker, to ./<dir>/<filename>.
// Rooted paths are fetched relative to origin.
func NewLocalImageRule(dir string, domains []string, uploadMarker, origin string) Rule {
	return &localImageRule{
		dir:          cleanDir(dir),
		domains:      domains,
		uploadMarker: strings.Trim(uploadMarker, "/"),
		origin:       origin,
	}
}

func (r *localImageRule) Name() string { return "local-image" }

func (r *localImageRule) Match(ref Reference, _ Context) bool {
	if !ref.IsImage() || ref.Filename == "" || ref.Opaque {
		return false
	}
	if ref.FromHost(r.domains) {
		return true
	}
	if r.uploadMarker == "" || !(ref.IsAbsolute() || ref.IsRooted()) {
		return false
	}
	return strings.Contains(ref.Path, "/"+r.uploadMarker+"/")
}

func (r *localImageRule) Apply(ref Reference) Outcome {
	return localOutcome(ref, r.dir, KindImage, r.origin)
}

func localOutcome(ref Reference, dir string, kind Kind, origin string) Outcome {
	out := Outcome{Value: "./" + dir + "/" + ref.Filename}
	if u := ref.FetchURL(origin); u != "" {
		name := ref.LocalName()
		out.Fetch = &Fetch{
			URL:      u,
			Target:   path.Join(dir, name),
			Filename: name,
			Kind:     kind,
		}
	}
	return out
}

func cleanDir(dir string) string {
	dir = strings.Trim(path.Clean("/"+strings.TrimSpace(dir)), "/")
	if dir == "" {
		return "."
	}
	return dir
}
