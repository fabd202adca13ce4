package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

// Context records where a reference was found in the document.
type Context string

// Supported reference contexts.
const (
	ContextInlineStyle Context = "inline_style"
	ContextStyleBlock  Context = "style_block"
	ContextAttribute   Context = "attribute"
	ContextSrcset      Context = "srcset"
	ContextScript      Context = "script"
)

// Kind classifies the asset a reference points at.
type Kind string

// Asset kinds.
const (
	KindFont  Kind = "font"
	KindImage Kind = "image"
)

var (
	schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

	fontExtensions = map[string]struct{}{
		"woff": {}, "woff2": {}, "ttf": {}, "eot": {}, "svg": {},
	}
	imageExtensions = map[string]struct{}{
		"jpg": {}, "jpeg": {}, "png": {}, "webp": {}, "gif": {}, "svg": {},
	}
)

// Reference is a raw URL string decomposed into the parts the rules care about.
type Reference struct {
	Raw      string
	Scheme   string
	Host     string
	Path     string
	Filename string
	Ext      string
	// Suffix holds the query string and fragment, including the leading ? or #.
	Suffix string
	// Opaque is set for scheme-only references such as data: or javascript:.
	Opaque bool
}

// ParseReference strips quotes and whitespace from raw and splits it into a
// Reference. It never fails; unparseable input yields a Reference with an
// empty Filename, which no rule matches.
func ParseReference(raw string) Reference {
	value := strings.TrimSpace(raw)
	value = strings.TrimSpace(strings.Trim(value, `"'`))
	ref := Reference{Raw: value}

	body := value
	if i := strings.IndexAny(body, "?#"); i >= 0 {
		ref.Suffix = body[i:]
		body = body[:i]
	}

	switch {
	case strings.HasPrefix(body, "//"):
		ref.Host, ref.Path = splitAuthority(body[2:])
	case schemePrefix.MatchString(body):
		idx := strings.Index(body, ":")
		ref.Scheme = strings.ToLower(body[:idx])
		rest := body[idx+1:]
		if strings.HasPrefix(rest, "//") {
			ref.Host, ref.Path = splitAuthority(rest[2:])
		} else {
			ref.Opaque = true
			ref.Path = rest
		}
	default:
		ref.Path = body
	}

	if ref.Opaque {
		return ref
	}
	if i := strings.LastIndex(ref.Path, "/"); i >= 0 {
		ref.Filename = ref.Path[i+1:]
	} else {
		ref.Filename = ref.Path
	}
	if ref.Filename == "." || ref.Filename == ".." {
		ref.Filename = ""
	}
	if i := strings.LastIndex(ref.Filename, "."); i > 0 {
		ref.Ext = strings.ToLower(ref.Filename[i+1:])
	}
	return ref
}

func splitAuthority(rest string) (host, path string) {
	authority := rest
	if i := strings.Index(rest, "/"); i >= 0 {
		authority = rest[:i]
		path = rest[i:]
	}
	if i := strings.LastIndex(authority, "@"); i >= 0 {
		authority = authority[i+1:]
	}
	if i := strings.LastIndex(authority, ":"); i >= 0 && !strings.Contains(authority[i:], "]") {
		authority = authority[:i]
	}
	return strings.ToLower(authority), path
}

// IsAbsolute reports whether the reference names a host.
func (r Reference) IsAbsolute() bool {
	return r.Host != ""
}

// IsRooted reports whether the reference is a host-relative path such as
// /wp-content/uploads/x.png.
func (r Reference) IsRooted() bool {
	return r.Host == "" && !r.Opaque && r.Scheme == "" && strings.HasPrefix(r.Path, "/")
}

// FromHost reports whether the reference host is one of domains or a
// subdomain of one.
func (r Reference) FromHost(domains []string) bool {
	if r.Host == "" {
		return false
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if r.Host == d || strings.HasSuffix(r.Host, "."+d) {
			return true
		}
	}
	return false
}

// IsFont reports whether the extension belongs to a web font. An svg is only
// treated as a font when its path says so.
func (r Reference) IsFont() bool {
	if _, ok := fontExtensions[r.Ext]; !ok {
		return false
	}
	if r.Ext == "svg" {
		return strings.Contains(strings.ToLower(r.Path), "font")
	}
	return true
}

// IsImage reports whether the extension belongs to an image.
func (r Reference) IsImage() bool {
	_, ok := imageExtensions[r.Ext]
	return ok
}

// Stem returns the filename without its extension.
func (r Reference) Stem() string {
	if r.Ext == "" {
		return r.Filename
	}
	return r.Filename[:len(r.Filename)-len(r.Ext)-1]
}

// LocalName is the on-disk name for the reference: the filename with any
// percent-encoding decoded.
func (r Reference) LocalName() string {
	name, err := url.PathUnescape(r.Filename)
	if err != nil || strings.ContainsAny(name, `/\`) {
		return r.Filename
	}
	return name
}

// FetchURL returns the absolute URL to download the reference from. Rooted
// references resolve against origin; the fragment is always dropped. An empty
// string means the reference cannot be fetched.
func (r Reference) FetchURL(origin string) string {
	raw := r.Raw
	if i := strings.Index(raw, "#"); i >= 0 {
		raw = raw[:i]
	}
	switch {
	case r.IsAbsolute() && strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case r.IsAbsolute():
		return raw
	case r.IsRooted() && origin != "":
		return strings.TrimRight(origin, "/") + raw
	default:
		return ""
	}
}
