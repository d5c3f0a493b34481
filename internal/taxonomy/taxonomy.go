// Package taxonomy classifies anomaly types as threats against one shared,
// configured tag set. Every aggregate in the service goes through it so that
// dashboards never disagree about what counts as a threat.
package taxonomy

import (
	"sort"
	"strings"
)

// DefaultThreats is the threat tag set used when no configuration overrides it.
var DefaultThreats = []string{
	"system_critical",
	"authentication_error",
	"filesystem_error",
	"network_error",
	"permission_error",
	"memory_error",
}

// Taxonomy is an immutable set of anomaly_type tags considered threats.
type Taxonomy struct {
	set  map[string]struct{}
	tags []string
}

// New builds a taxonomy from tags. Surrounding whitespace is trimmed, empty
// tags are ignored and duplicates collapse.
func New(tags ...string) *Taxonomy {
	t := &Taxonomy{set: make(map[string]struct{}, len(tags))}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := t.set[tag]; ok {
			continue
		}
		t.set[tag] = struct{}{}
		t.tags = append(t.tags, tag)
	}
	return t
}

// Default returns a taxonomy over DefaultThreats.
func Default() *Taxonomy {
	return New(DefaultThreats...)
}

// IsThreat reports whether anomalyType is present and a member of the set.
func (t *Taxonomy) IsThreat(anomalyType string) bool {
	if t == nil || anomalyType == "" {
		return false
	}
	_, ok := t.set[anomalyType]
	return ok
}

// Tags returns the configured tags in configuration order.
func (t *Taxonomy) Tags() []string {
	out := make([]string, len(t.tags))
	copy(out, t.tags)
	return out
}

// Sorted returns the configured tags in lexical order.
func (t *Taxonomy) Sorted() []string {
	out := t.Tags()
	sort.Strings(out)
	return out
}

// Len returns the number of tags.
func (t *Taxonomy) Len() int {
	return len(t.tags)
}
