package pipeline

import (
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/pagelocalizer/internal/rewrite"
)

// Attributes holding a single URL reference.
var singleRefAttrs = []string{"src", "data-src", "data-lazy-src", "data-bg", "poster"}

// Attributes holding srcset candidate lists.
var srcsetAttrs = []string{"srcset", "data-srcset", "data-lazy-srcset"}

type attrEdit struct {
	node  *html.Node
	key   string
	value string
}

type textEdit struct {
	node  *html.Node
	value string
}

// rewritePlan is every URL rewrite the document needs, gathered before any
// node is touched.
type rewritePlan struct {
	attrs     []attrEdit
	texts     []textEdit
	counts    map[string]int
	fetches   []rewrite.Fetch
	redirects []rewrite.Fetch
}

func (p *rewritePlan) record(edit rewrite.Edit) {
	for _, rule := range edit.Rules {
		p.counts[rule]++
	}
	p.fetches = append(p.fetches, edit.Fetches...)
	p.redirects = append(p.redirects, edit.Redirects...)
}

// planRewrites walks every element outside skip and collects rewrites for
// URL attributes, style attributes, style blocks and inline scripts.
func planRewrites(doc *goquery.Document, rw *rewrite.Rewriter, skip string) rewritePlan {
	plan := rewritePlan{counts: make(map[string]int)}
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		if skip != "" && (sel.Is(skip) || sel.ParentsFiltered(skip).Length() > 0) {
			return
		}
		node := sel.Get(0)
		name := node.Data

		if name != "script" {
			for _, key := range singleRefAttrs {
				if val, ok := sel.Attr(key); ok {
					plan.addAttr(node, key, rw.RewriteAttribute(val))
				}
			}
		}
		for _, key := range srcsetAttrs {
			if val, ok := sel.Attr(key); ok {
				plan.addAttr(node, key, rw.RewriteSrcset(val))
			}
		}
		if val, ok := sel.Attr("style"); ok {
			plan.addAttr(node, "style", rw.RewriteCSS(val, rewrite.ContextInlineStyle))
		}

		switch name {
		case "style":
			plan.addText(node, rw.RewriteCSS(rawText(node), rewrite.ContextStyleBlock))
		case "script":
			if _, external := sel.Attr("src"); !external {
				plan.addText(node, rw.RewriteScript(rawText(node)))
			}
		case "noscript":
			plan.addText(node, rewriteNoscript(rawText(node), rw))
		}
	})
	return plan
}

// rewriteNoscript rewrites the URL attributes of the markup inside a
// noscript element, which the parser keeps as raw text. The markup is
// re-rendered only when something changed.
func rewriteNoscript(text string, rw *rewrite.Rewriter) rewrite.Edit {
	edit := rewrite.Edit{Value: text}
	if !strings.Contains(text, "<") {
		return edit
	}
	context := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(text), context)
	if err != nil {
		return edit
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for i := range n.Attr {
				attr := &n.Attr[i]
				if attr.Namespace != "" {
					continue
				}
				var e rewrite.Edit
				switch {
				case slices.Contains(singleRefAttrs, attr.Key) && n.Data != "script":
					e = rw.RewriteAttribute(attr.Val)
				case slices.Contains(srcsetAttrs, attr.Key):
					e = rw.RewriteSrcset(attr.Val)
				case attr.Key == "style":
					e = rw.RewriteCSS(attr.Val, rewrite.ContextInlineStyle)
				default:
					continue
				}
				edit.Rules = append(edit.Rules, e.Rules...)
				edit.Fetches = append(edit.Fetches, e.Fetches...)
				edit.Redirects = append(edit.Redirects, e.Redirects...)
				if e.Changed {
					attr.Val = e.Value
					edit.Changed = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	if !edit.Changed {
		return edit
	}

	var b strings.Builder
	for _, n := range nodes {
		if err := html.Render(&b, n); err != nil {
			return rewrite.Edit{Value: text}
		}
	}
	edit.Value = b.String()
	return edit
}

func (p *rewritePlan) addAttr(node *html.Node, key string, edit rewrite.Edit) {
	p.record(edit)
	if edit.Changed {
		p.attrs = append(p.attrs, attrEdit{node: node, key: key, value: edit.Value})
	}
}

func (p *rewritePlan) addText(node *html.Node, edit rewrite.Edit) {
	p.record(edit)
	if edit.Changed {
		p.texts = append(p.texts, textEdit{node: node, value: edit.Value})
	}
}

// apply writes the planned values into the tree.
func (p *rewritePlan) apply() {
	for _, e := range p.attrs {
		for i := range e.node.Attr {
			if e.node.Attr[i].Namespace == "" && e.node.Attr[i].Key == e.key {
				e.node.Attr[i].Val = e.value
			}
		}
	}
	for _, e := range p.texts {
		for c := e.node.FirstChild; c != nil; {
			next := c.NextSibling
			e.node.RemoveChild(c)
			c = next
		}
		e.node.AppendChild(&html.Node{Type: html.TextNode, Data: e.value})
	}
}

// rawText concatenates the text children of a raw-text element.
func rawText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
