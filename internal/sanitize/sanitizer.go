package sanitize

import (
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// candidates are the only elements any rule can match.
const candidates = "script, noscript, link"

// Removal is one element scheduled for removal.
type Removal struct {
	Rule string
	Tag  string
	node *html.Node
}

// Plan is the read-only result of evaluating every rule against a document.
type Plan struct {
	Removals []Removal
}

// Counts returns the number of removals per rule.
func (p Plan) Counts() map[string]int {
	counts := make(map[string]int, len(p.Removals))
	for _, r := range p.Removals {
		counts[r.Rule]++
	}
	return counts
}

// Sanitizer evaluates removal rules over a parsed document.
type Sanitizer struct {
	rules  []Rule
	skip   string
	logger *zap.Logger
}

// New builds a Sanitizer from the default rules. Elements matching skip (a
// CSS selector, usually the injected fragment marker) and their descendants
// are never removed.
func New(cfg Config, skip string, logger *zap.Logger) *Sanitizer {
	return NewWithRules(skip, logger, DefaultRules(cfg)...)
}

// NewWithRules builds a Sanitizer with an explicit rule set.
func NewWithRules(skip string, logger *zap.Logger, rules ...Rule) *Sanitizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sanitizer{rules: append([]Rule(nil), rules...), skip: skip, logger: logger}
}

// Plan evaluates every rule against every candidate element without
// touching the tree, so removing one element cannot change how a sibling is
// judged.
func (s *Sanitizer) Plan(doc *goquery.Document) Plan {
	var plan Plan
	doc.Find(candidates).Each(func(_ int, sel *goquery.Selection) {
		if s.skip != "" && (sel.Is(s.skip) || sel.ParentsFiltered(s.skip).Length() > 0) {
			return
		}
		for _, rule := range s.rules {
			if rule.Match(sel) {
				plan.Removals = append(plan.Removals, Removal{
					Rule: rule.Name(),
					Tag:  goquery.NodeName(sel),
					node: sel.Get(0),
				})
				return
			}
		}
	})
	return plan
}

// Apply detaches every planned element and returns how many were removed.
// Nodes already detached, for example because an ancestor was removed, are
// skipped.
func (s *Sanitizer) Apply(plan Plan) int {
	removed := 0
	for _, r := range plan.Removals {
		if r.node == nil || r.node.Parent == nil {
			continue
		}
		r.node.Parent.RemoveChild(r.node)
		removed++
		s.logger.Debug("removed element", zap.String("rule", r.Rule), zap.String("tag", r.Tag))
	}
	return removed
}

// Sanitize plans and applies in one call.
func (s *Sanitizer) Sanitize(doc *goquery.Document) Plan {
	plan := s.Plan(doc)
	s.Apply(plan)
	return plan
}
