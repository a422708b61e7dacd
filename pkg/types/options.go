package types

import (
	"fmt"
	"regexp"
	"strings"
)

// ContainmentRule selects how the correlator decides that an annotation
// range brackets a kernel.
type ContainmentRule uint8

const (
	// ContainStrict requires the whole kernel interval to lie inside the
	// range: start <= k.start, k.end <= end and k.start < end.
	ContainStrict ContainmentRule = iota
	// ContainStart only requires the kernel to start inside [start, end).
	ContainStart
)

func (r ContainmentRule) String() string {
	switch r {
	case ContainStrict:
		return "strict"
	case ContainStart:
		return "start"
	default:
		return fmt.Sprintf("containment(%d)", uint8(r))
	}
}

// ParseContainmentRule parses "strict" or "start".
func ParseContainmentRule(s string) (ContainmentRule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ContainStrict, nil
	case "start":
		return ContainStart, nil
	default:
		return 0, fmt.Errorf("unknown containment rule %q (must be strict or start)", s)
	}
}

// Contains reports whether [ks, ke) is bracketed by [ns, ne) under the rule.
func (r ContainmentRule) Contains(ns, ne, ks, ke int64) bool {
	if ks < ns || ks >= ne {
		return false
	}
	if r == ContainStart {
		return true
	}
	return ke <= ne
}

// ColorRule maps an annotation name, a category name, or a regular
// expression over names to a display color token.
type ColorRule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Color   string `json:"color" yaml:"color"`
}

type compiledColorRule struct {
	rule ColorRule
	re   *regexp.Regexp
}

// ConversionOptions is the immutable configuration threaded through every
// stage. Use DefaultOptions and the With methods, each of which returns a
// modified copy.
type ConversionOptions struct {
	categories      CategorySet
	includeMetadata bool
	includeFlows    bool
	beginEndRanges  bool
	containment     ContainmentRule
	colors          []compiledColorRule
	nvtxPrefixes    []string
}

// DefaultOptions requests every category with metadata and strict containment.
func DefaultOptions() ConversionOptions {
	return ConversionOptions{
		categories:      FullCategorySet(),
		includeMetadata: true,
		containment:     ContainStrict,
	}
}

// WithCategories replaces the requested category set.
func (o ConversionOptions) WithCategories(cats ...Category) ConversionOptions {
	o.categories = NewCategorySet(cats...)
	return o
}

// WithMetadata toggles process/thread naming records.
func (o ConversionOptions) WithMetadata(include bool) ConversionOptions {
	o.includeMetadata = include
	return o
}

// WithFlows toggles API-to-kernel flow arrows.
func (o ConversionOptions) WithFlows(include bool) ConversionOptions {
	o.includeFlows = include
	return o
}

// WithBeginEndRanges emits NVTX start/end ranges as "B"/"E" pairs.
func (o ConversionOptions) WithBeginEndRanges(enabled bool) ConversionOptions {
	o.beginEndRanges = enabled
	return o
}

// WithContainment sets the correlation boundary rule.
func (o ConversionOptions) WithContainment(rule ContainmentRule) ConversionOptions {
	o.containment = rule
	return o
}

// WithColorScheme replaces the color rules. Patterns that are not valid
// regular expressions still match by exact name or category.
func (o ConversionOptions) WithColorScheme(rules []ColorRule) ConversionOptions {
	compiled := make([]compiledColorRule, 0, len(rules))
	for _, r := range rules {
		c := compiledColorRule{rule: r}
		if re, err := regexp.Compile(r.Pattern); err == nil {
			c.re = re
		}
		compiled = append(compiled, c)
	}
	o.colors = compiled
	return o
}

// WithNVTXPrefixes keeps only NVTX annotations whose name has one of the
// prefixes. An empty list keeps everything.
func (o ConversionOptions) WithNVTXPrefixes(prefixes []string) ConversionOptions {
	o.nvtxPrefixes = append([]string(nil), prefixes...)
	return o
}

// Categories returns the requested set.
func (o ConversionOptions) Categories() CategorySet { return o.categories }

// Includes reports whether c was requested. cuda-flow follows IncludeFlows.
func (o ConversionOptions) Includes(c Category) bool {
	if c == CategoryFlow {
		return o.includeFlows
	}
	return o.categories.Has(c)
}

// IncludeMetadata reports whether metadata records are emitted.
func (o ConversionOptions) IncludeMetadata() bool { return o.includeMetadata }

// IncludeFlows reports whether flow arrows are emitted.
func (o ConversionOptions) IncludeFlows() bool { return o.includeFlows }

// BeginEndRanges reports whether NVTX start/end ranges use "B"/"E" pairs.
func (o ConversionOptions) BeginEndRanges() bool { return o.beginEndRanges }

// Containment returns the correlation boundary rule.
func (o ConversionOptions) Containment() ContainmentRule { return o.containment }

// ColorScheme returns a copy of the color rules.
func (o ConversionOptions) ColorScheme() []ColorRule {
	out := make([]ColorRule, len(o.colors))
	for i, c := range o.colors {
		out[i] = c.rule
	}
	return out
}

// NVTXPrefixes returns a copy of the NVTX name prefixes.
func (o ConversionOptions) NVTXPrefixes() []string {
	return append([]string(nil), o.nvtxPrefixes...)
}

// ColorFor returns the first matching color token for an event, or "".
func (o ConversionOptions) ColorFor(cat Category, name string) string {
	for _, c := range o.colors {
		switch {
		case c.rule.Pattern == name, c.rule.Pattern == cat.String():
			return c.rule.Color
		case c.re != nil && c.re.MatchString(name):
			return c.rule.Color
		}
	}
	return ""
}

// KeepNVTX applies the NVTX prefix filter.
func (o ConversionOptions) KeepNVTX(name string) bool {
	if len(o.nvtxPrefixes) == 0 {
		return true
	}
	for _, p := range o.nvtxPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
