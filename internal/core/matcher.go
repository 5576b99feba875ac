package core

import (
	"context"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/JonMunkholm/libinventory/internal/catalog"
)

// Matcher finds the catalog entry an import row most plausibly refers to.
// It returns nil, nil when nothing matches.
type Matcher interface {
	FindExisting(ctx context.Context, title, composer string) (*catalog.Entry, error)
}

// SubstringMatcher is the default policy: the title must contain the row
// title ignoring case, narrowed by composer containment when the row has a
// composer. "Ave Maria" therefore matches "Ave Maria (SATB)" but not the
// other way round.
type SubstringMatcher struct {
	reader catalog.Reader
}

// NewSubstringMatcher wraps reader.
func NewSubstringMatcher(reader catalog.Reader) *SubstringMatcher {
	return &SubstringMatcher{reader: reader}
}

// FindExisting returns the earliest-created entry that matches.
func (m *SubstringMatcher) FindExisting(ctx context.Context, title, composer string) (*catalog.Entry, error) {
	return m.reader.FindByTitleAndComposer(ctx, title, composer)
}

// DefaultSimilarityThreshold is the minimum Jaro-Winkler score a candidate
// title needs under the similarity policy.
const DefaultSimilarityThreshold = 0.92

// SimilarityMatcher scores candidate titles with Jaro-Winkler so small
// spelling differences ("Amazing Grace" / "Amazing Grace!") still match.
// Candidates are restricted by composer containment the same way the
// substring policy does it.
type SimilarityMatcher struct {
	reader    catalog.Reader
	threshold float64
	metric    *metrics.JaroWinkler
}

// NewSimilarityMatcher builds a matcher. A threshold outside (0, 1] falls
// back to DefaultSimilarityThreshold.
func NewSimilarityMatcher(reader catalog.Reader, threshold float64) *SimilarityMatcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	jw := metrics.NewJaroWinkler()
	jw.CaseSensitive = false
	return &SimilarityMatcher{reader: reader, threshold: threshold, metric: jw}
}

// Threshold returns the configured minimum score.
func (m *SimilarityMatcher) Threshold() float64 {
	return m.threshold
}

// FindExisting returns the best-scoring candidate at or above the
// threshold. Candidates arrive in creation order and only a strictly
// higher score displaces the current best, so the earliest entry wins ties.
func (m *SimilarityMatcher) FindExisting(ctx context.Context, title, composer string) (*catalog.Entry, error) {
	candidates, err := m.reader.ListCandidates(ctx, composer)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(title)
	var best *catalog.Entry
	bestScore := 0.0
	for i := range candidates {
		score := strutil.Similarity(query, strings.TrimSpace(candidates[i].Title), m.metric)
		if score >= m.threshold && score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	return best, nil
}
