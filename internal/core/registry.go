package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/libinventory/internal/catalog"
)

// Match policy names accepted by NewMatcher.
const (
	PolicySubstring  = "substring"
	PolicySimilarity = "similarity"
)

// MatcherOptions carries the tunables a policy factory may read.
type MatcherOptions struct {
	SimilarityThreshold float64
}

// MatcherFactory builds a Matcher over a catalog reader.
type MatcherFactory func(reader catalog.Reader, opts MatcherOptions) Matcher

var (
	policies   = make(map[string]MatcherFactory)
	policiesMu sync.RWMutex
)

func init() {
	RegisterPolicy(PolicySubstring, func(r catalog.Reader, _ MatcherOptions) Matcher {
		return NewSubstringMatcher(r)
	})
	RegisterPolicy(PolicySimilarity, func(r catalog.Reader, opts MatcherOptions) Matcher {
		return NewSimilarityMatcher(r, opts.SimilarityThreshold)
	})
}

// RegisterPolicy adds a named match policy.
// Panics if the name is already registered.
func RegisterPolicy(name string, factory MatcherFactory) {
	policiesMu.Lock()
	defer policiesMu.Unlock()

	key := strings.ToLower(name)
	if _, exists := policies[key]; exists {
		panic(fmt.Sprintf("match policy already registered: %s", name))
	}
	policies[key] = factory
}

// NewMatcher builds the matcher registered under name. An empty name
// selects the substring policy.
func NewMatcher(name string, reader catalog.Reader, opts MatcherOptions) (Matcher, error) {
	if name == "" {
		name = PolicySubstring
	}

	policiesMu.RLock()
	factory, ok := policies[strings.ToLower(name)]
	policiesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown match policy %q (have %s)", name, strings.Join(Policies(), ", "))
	}
	return factory(reader, opts), nil
}

// Policies returns the registered policy names, sorted.
func Policies() []string {
	policiesMu.RLock()
	defer policiesMu.RUnlock()

	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
