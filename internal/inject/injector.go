package inject

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Result summarizes one Inject call.
type Result struct {
	// Injected lists the fragment IDs appended, in order.
	Injected []string
	// Replaced counts previously injected elements that were removed first.
	Replaced int
	// Skipped lists fragments whose anchor is missing from the document.
	Skipped []string
}

// Injector upserts fragments into parsed documents.
type Injector struct {
	fragments []Fragment
	logger    *zap.Logger
}

// New returns an Injector for fragments.
func New(fragments []Fragment, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{fragments: append([]Fragment(nil), fragments...), logger: logger}
}

// Fragments returns the configured fragments.
func (i *Injector) Fragments() []Fragment {
	return append([]Fragment(nil), i.fragments...)
}

// Inject removes any element previously injected under a fragment's ID and
// appends a fresh copy at the end of the fragment's anchor.
func (i *Injector) Inject(doc *goquery.Document) (Result, error) {
	var res Result
	for _, frag := range i.fragments {
		anchor := doc.Find(string(frag.Anchor)).First()
		if anchor.Length() == 0 {
			i.logger.Warn("anchor missing, fragment skipped",
				zap.String("fragment", frag.ID), zap.String("anchor", string(frag.Anchor)))
			res.Skipped = append(res.Skipped, frag.ID)
			continue
		}

		nodes, err := parseFragment(frag, anchor.Get(0))
		if err != nil {
			return res, err
		}

		existing := doc.Find(fmt.Sprintf("[%s=%q]", MarkerAttr, frag.ID))
		res.Replaced += existing.Length()
		existing.Remove()

		parent := anchor.Get(0)
		for _, n := range nodes {
			parent.AppendChild(n)
		}
		res.Injected = append(res.Injected, frag.ID)
		i.logger.Debug("fragment injected",
			zap.String("fragment", frag.ID), zap.Int("elements", len(nodes)))
	}
	return res, nil
}

// parseFragment parses markup in the context of the anchor element and
// returns its top-level elements, each tagged with the marker attribute.
// Top-level text and comments are dropped so repeated runs do not pile up
// whitespace.
func parseFragment(frag Fragment, context *html.Node) ([]*html.Node, error) {
	parsed, err := html.ParseFragment(strings.NewReader(frag.Markup), context)
	if err != nil {
		return nil, fmt.Errorf("parse fragment %s: %w", frag.ID, err)
	}
	nodes := make([]*html.Node, 0, len(parsed))
	for _, n := range parsed {
		if n.Type != html.ElementNode {
			continue
		}
		setAttr(n, MarkerAttr, frag.ID)
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("fragment %s has no elements", frag.ID)
	}
	return nodes, nil
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key && n.Attr[i].Namespace == "" {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
