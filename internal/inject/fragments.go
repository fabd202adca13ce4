// Package inject appends fixed markup fragments to the document head and
// body. Injection is an upsert keyed by a marker attribute, so running it on
// its own output leaves exactly one copy of every fragment.
package inject

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// Anchor is the element a fragment is appended to.
type Anchor string

// Supported anchors.
const (
	AnchorHead Anchor = "head"
	AnchorBody Anchor = "body"
)

// MarkerAttr is set on every top-level element of an injected fragment.
const MarkerAttr = "data-localizer-fragment"

// MarkerSelector matches any injected element.
const MarkerSelector = "[" + MarkerAttr + "]"

// Fragment IDs of the default fragments.
const (
	TrackingID   = "tracking"
	DisclaimerID = "disclaimer"
)

// Fragment is markup appended to an anchor.
type Fragment struct {
	ID     string
	Anchor Anchor
	Markup string
}

// TrackingConfig parameterizes the default fragments.
type TrackingConfig struct {
	PixelID          string        `mapstructure:"pixel_id"`
	EngagedAfter     time.Duration `mapstructure:"engaged_after"`
	CheckoutSelector string        `mapstructure:"checkout_selector"`
	Disclaimer       string        `mapstructure:"disclaimer"`
}

var trackingTemplate = template.Must(template.New(TrackingID).Parse(`<script>
!function(f,b,e,v,n,t,s)
{if(f.fbq)return;n=f.fbq=function(){n.callMethod?
n.callMethod.apply(n,arguments):n.queue.push(arguments)};
if(!f._fbq)f._fbq=n;n.push=n;n.loaded=!0;n.version='2.0';
n.queue=[];t=b.createElement(e);t.async=!0;t.src=v;s=b.getElementsByTagName(e)[0];
s.parentNode.insertBefore(t,s)}(window, document,'script',
'https://connect.facebook.net/en_US/fbevents.js');
fbq('init', {{.PixelID}});
fbq('track', 'PageView');
{{- if gt .EngagedAfterMillis 0}}
setTimeout(function() {
    fbq('trackCustom', 'Visitante_Engajado');
}, {{.EngagedAfterMillis}});
{{- end}}
{{- if .CheckoutSelector}}
document.addEventListener('DOMContentLoaded', function() {
    var links = document.querySelectorAll({{.CheckoutSelector}});
    for (var i = 0; i < links.length; i++) {
        links[i].addEventListener('click', function() {
            fbq('track', 'ViewContent');
        });
    }
});
{{- end}}
</script>
<noscript><img height="1" width="1" style="display:none" src="https://www.facebook.com/tr?id={{.PixelID}}&amp;ev=PageView&amp;noscript=1"/></noscript>`))

var disclaimerTemplate = template.Must(template.New(DisclaimerID).Parse(
	`<div style="text-align: center; padding: 20px; font-family: sans-serif; font-size: 12px; color: #666; ` +
		`background: #fff; border-top: 1px solid #ddd; width: 100%; margin-top: 20px;">{{.}}</div>`))

// DefaultFragments renders the tracking snippet and the disclaimer. A
// fragment whose parameters are empty is left out.
func DefaultFragments(cfg TrackingConfig) ([]Fragment, error) {
	var fragments []Fragment
	if cfg.PixelID != "" {
		var buf bytes.Buffer
		err := trackingTemplate.Execute(&buf, struct {
			PixelID            string
			EngagedAfterMillis int64
			CheckoutSelector   string
		}{
			PixelID:            cfg.PixelID,
			EngagedAfterMillis: cfg.EngagedAfter.Milliseconds(),
			CheckoutSelector:   cfg.CheckoutSelector,
		})
		if err != nil {
			return nil, fmt.Errorf("render tracking fragment: %w", err)
		}
		fragments = append(fragments, Fragment{ID: TrackingID, Anchor: AnchorHead, Markup: buf.String()})
	}
	if cfg.Disclaimer != "" {
		var buf bytes.Buffer
		if err := disclaimerTemplate.Execute(&buf, cfg.Disclaimer); err != nil {
			return nil, fmt.Errorf("render disclaimer fragment: %w", err)
		}
		fragments = append(fragments, Fragment{ID: DisclaimerID, Anchor: AnchorBody, Markup: buf.String()})
	}
	return fragments, nil
}
