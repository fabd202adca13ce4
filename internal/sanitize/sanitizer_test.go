package sanitize

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!DOCTYPE html>
<html><head>
<link rel="preconnect" href="https://colagenotipo2pro.com.br">
<link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
<script src="https://colagenotipo2pro.com.br/wp-content/plugins/x/refresh.js?ver=1"></script>
<script src="https://colagenotipo2pro.com.br/wp-includes/js/dist/i18n.min.js"></script>
<script src="https://colagenotipo2pro.com.br/wp-includes/js/jquery/jQuery.min.js"></script>
<script src="https://colagenotipo2pro.com.br/wp-content/plugins/elementor/assets/js/frontend.min.js"></script>
<script>wp.i18n.setLocaleData({});</script>
<script>var elementorFrontendConfig = {"urls":{}};</script>
<script>fetch('/api/meta-event', {method: 'POST'});</script>
<script>!function(f){}(window); fbq('init', '1'); fbq('track', 'PageView');</script>
<noscript><img height="1" width="1" src="https://www.facebook.com/tr?id=1&ev=PageView&noscript=1"/></noscript>
<noscript><img src="./images/fallback.png"/></noscript>
<script>window.dataLayer = window.dataLayer || [];</script>
</head><body>
<div data-localizer-fragment="tracking"><script>fbq('track', 'Kept');</script></div>
<p>content</p>
</body></html>`

func newDoc(t *testing.T, markup string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return doc
}

func newTestSanitizer() *Sanitizer {
	cfg := DefaultConfig()
	cfg.SourceDomains = []string{"colagenotipo2pro.com.br"}
	return New(cfg, "[data-localizer-fragment]", nil)
}

func TestPlanDoesNotMutate(t *testing.T) {
	t.Parallel()

	doc := newDoc(t, page)
	before, err := doc.Html()
	require.NoError(t, err)

	plan := newTestSanitizer().Plan(doc)
	after, err := doc.Html()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	assert.Equal(t, map[string]int{
		"refresh-script":      1,
		"framework-script":    1,
		"global-state-script": 3,
		"pixel-script":        1,
		"pixel-noscript":      1,
		"source-preconnect":   1,
	}, plan.Counts())
}

func TestSanitizeRemovesMatchingElements(t *testing.T) {
	t.Parallel()

	doc := newDoc(t, page)
	s := newTestSanitizer()
	plan := s.Plan(doc)
	assert.Equal(t, 8, s.Apply(plan))

	out, err := doc.Html()
	require.NoError(t, err)

	assert.NotContains(t, out, "refresh.js")
	assert.NotContains(t, out, "i18n")
	assert.NotContains(t, out, "elementorFrontendConfig")
	assert.NotContains(t, out, "/api/meta-event")
	assert.NotContains(t, out, "PageView")
	assert.NotContains(t, out, `href="https://colagenotipo2pro.com.br"`)

	assert.Contains(t, out, "jQuery.min.js", "allow-listed framework script stays")
	assert.Contains(t, out, "elementor/assets/js/frontend.min.js")
	assert.Contains(t, out, "fonts.gstatic.com")
	assert.Contains(t, out, "fallback.png")
	assert.Contains(t, out, "window.dataLayer")
	assert.Contains(t, out, "fbq('track', 'Kept')", "marked fragments are never removed")
}

func TestSanitizeIsIdempotent(t *testing.T) {
	t.Parallel()

	doc := newDoc(t, page)
	s := newTestSanitizer()
	s.Sanitize(doc)
	first, err := doc.Html()
	require.NoError(t, err)

	again := newDoc(t, first)
	plan := s.Sanitize(again)
	assert.Empty(t, plan.Removals)
	second, err := again.Html()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAdjacentMatchesAreAllRemoved(t *testing.T) {
	t.Parallel()

	doc := newDoc(t, `<html><head>
<script>var elementorFrontendConfig = {};</script><script>var ElementorProFrontendConfig = {};</script><script>wp-i18n</script>
</head><body></body></html>`)
	newTestSanitizer().Sanitize(doc)
	assert.Equal(t, 0, doc.Find("script").Length())
}

func TestApplySkipsDetachedNodes(t *testing.T) {
	t.Parallel()

	doc := newDoc(t, `<html><head><script>fbq('init')</script></head><body></body></html>`)
	s := newTestSanitizer()
	plan := s.Plan(doc)
	require.Len(t, plan.Removals, 1)
	assert.Equal(t, 1, s.Apply(plan))
	assert.Equal(t, 0, s.Apply(plan))
}

func TestRuleMatching(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SourceDomains = []string{"colagenotipo2pro.com.br"}
	rules := map[string]Rule{}
	for _, r := range DefaultRules(cfg) {
		rules[r.Name()] = r
	}
	require.Len(t, rules, 6)

	cases := []struct {
		rule   string
		markup string
		want   bool
	}{
		{"framework-script", `<script src="/wp-includes/js/wp-embed.min.js"></script>`, true},
		{"framework-script", `<script src="/wp-includes/js/JQUERY/jquery-migrate.js"></script>`, false},
		{"framework-script", `<script>/* wp-includes */</script>`, false},
		{"global-state-script", `<script src="/x.js">wp.i18n</script>`, false},
		{"pixel-script", `<script src="https://connect.facebook.net/en_US/fbevents.js"></script>`, false},
		{"source-preconnect", `<link rel="dns-prefetch preconnect" href="//COLAGENOTIPO2PRO.com.br">`, true},
		{"source-preconnect", `<link rel="stylesheet" href="https://colagenotipo2pro.com.br/a.css">`, false},
		{"pixel-noscript", `<noscript>tracking disabled</noscript>`, false},
	}
	for _, tc := range cases {
		doc := newDoc(t, "<html><head>"+tc.markup+"</head><body></body></html>")
		sel := doc.Find(candidates).First()
		require.Equal(t, 1, sel.Length(), tc.markup)
		assert.Equal(t, tc.want, rules[tc.rule].Match(sel), "%s on %s", tc.rule, tc.markup)
	}
}

func TestDefaultRulesSkipEmptyPatterns(t *testing.T) {
	t.Parallel()

	assert.Empty(t, DefaultRules(Config{}))
}
