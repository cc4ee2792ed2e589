// Package trigger classifies article text into trigger-event categories
// using an ordered keyword taxonomy.
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/linnemanlabs/leadwatch/internal/lead"
)

// Rule maps a category to its trigger keywords.
type Rule struct {
	Category lead.Category
	Keywords []string
}

// Taxonomy is an ordered list of rules. Declaration order breaks ties: the
// first rule with any matching keyword wins.
type Taxonomy struct {
	rules []Rule
}

// NewTaxonomy validates and copies rules. Keywords are lower-cased.
func NewTaxonomy(rules []Rule) (Taxonomy, error) {
	if len(rules) == 0 {
		return Taxonomy{}, errors.New("taxonomy has no rules")
	}

	seen := make(map[lead.Category]struct{}, len(rules))
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Category == "" {
			return Taxonomy{}, errors.New("taxonomy rule has empty category")
		}
		if _, dup := seen[r.Category]; dup {
			return Taxonomy{}, fmt.Errorf("duplicate taxonomy category %q", r.Category)
		}
		seen[r.Category] = struct{}{}

		if len(r.Keywords) == 0 {
			return Taxonomy{}, fmt.Errorf("category %q has no keywords", r.Category)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				return Taxonomy{}, fmt.Errorf("category %q has a blank keyword", r.Category)
			}
			kws = append(kws, kw)
		}
		out = append(out, Rule{Category: r.Category, Keywords: kws})
	}
	return Taxonomy{rules: out}, nil
}

// Rules returns a copy of the taxonomy rules in declaration order.
func (t Taxonomy) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		out[i] = Rule{Category: r.Category, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}

// DefaultTaxonomy returns the built-in trigger keywords.
func DefaultTaxonomy() Taxonomy {
	t, err := NewTaxonomy([]Rule{
		{lead.CategoryFunding, []string{"funding", "raised", "series", "investment", "venture capital", "seed round"}},
		{lead.CategoryNewHires, []string{"hired", "appointed", "joins", "new executive", "c-suite"}},
		{lead.CategoryExpansion, []string{"expanding", "new office", "entering", "launching in", "international"}},
		{lead.CategoryProductLaunch, []string{"launched", "unveils", "announces", "new product", "release"}},
		{lead.CategoryPartnership, []string{"partnership", "partners with", "collaboration", "teams up"}},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// Classifier matches text against a taxonomy in a single pass. It is safe
// for concurrent use.
type Classifier struct {
	// Matcher.Match mutates internal counters
	mu         sync.Mutex
	matcher    *ahocorasick.Matcher
	categories []lead.Category
	// keyword index -> rule index
	owner []int
}

// New builds a classifier for the taxonomy.
func New(t Taxonomy) *Classifier {
	c := &Classifier{categories: make([]lead.Category, len(t.rules))}

	var dict []string
	for i, r := range t.rules {
		c.categories[i] = r.Category
		for _, kw := range r.Keywords {
			dict = append(dict, kw)
			c.owner = append(c.owner, i)
		}
	}
	if len(dict) > 0 {
		c.matcher = ahocorasick.NewStringMatcher(dict)
	}
	return c
}

// Classify returns the first category in taxonomy order with a keyword that
// appears in text, ignoring case. ok is false when nothing matches.
func (c *Classifier) Classify(text string) (cat lead.Category, ok bool) {
	if c.matcher == nil || text == "" {
		return "", false
	}

	c.mu.Lock()
	hits := c.matcher.Match([]byte(strings.ToLower(text)))
	c.mu.Unlock()

	best := -1
	for _, hit := range hits {
		if hit < 0 || hit >= len(c.owner) {
			continue
		}
		if rule := c.owner[hit]; best < 0 || rule < best {
			best = rule
		}
	}
	if best < 0 {
		return "", false
	}
	return c.categories[best], true
}
