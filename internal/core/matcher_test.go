package core

import (
	"context"
	"testing"
	"time"

	"github.com/JonMunkholm/libinventory/internal/catalog"
)

// seedCatalog returns a store whose entries were created one minute apart in
// the order given.
func seedCatalog(entries ...catalog.Entry) *catalog.MemoryStore {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := range entries {
		entries[i].ID = entries[i].Title + "-" + string(rune('a'+i))
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
	}
	return catalog.NewMemoryStore(entries...)
}

func libraryFixture() *catalog.MemoryStore {
	return seedCatalog(
		catalog.Entry{Title: "Ave Maria (SATB)", Composer: catalog.StringPtr("Franz Schubert")},
		catalog.Entry{Title: "Ave Maria", Composer: catalog.StringPtr("Johann Sebastian Bach")},
		catalog.Entry{Title: "Amazing Grace", Composer: catalog.StringPtr("John Newton")},
		catalog.Entry{Title: "Hallelujah Chorus", Composer: catalog.StringPtr("George Frideric Handel")},
	)
}

func TestSubstringMatcher(t *testing.T) {
	m := NewSubstringMatcher(libraryFixture())
	ctx := context.Background()

	tests := []struct {
		name     string
		title    string
		composer string
		wantID   string
	}{
		{"substring of stored title", "ave maria", "", "Ave Maria (SATB)-a"},
		{"earliest created wins", "Ave Maria", "", "Ave Maria (SATB)-a"},
		{"composer narrows", "Ave Maria", "bach", "Ave Maria-b"},
		{"composer mismatch", "Amazing Grace", "Schubert", ""},
		{"stored title must contain row title", "Amazing Grace Medley", "", ""},
		{"exact title", "Hallelujah Chorus", "Handel", "Hallelujah Chorus-d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.FindExisting(ctx, tt.title, tt.composer)
			if err != nil {
				t.Fatalf("FindExisting() error = %v", err)
			}
			if tt.wantID == "" {
				if got != nil {
					t.Errorf("FindExisting() = %q, want no match", got.ID)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("FindExisting() = %v, want %q", got, tt.wantID)
			}
		})
	}
}

func TestSimilarityMatcher(t *testing.T) {
	m := NewSimilarityMatcher(libraryFixture(), DefaultSimilarityThreshold)
	ctx := context.Background()

	tests := []struct {
		name     string
		title    string
		composer string
		wantID   string
	}{
		{"punctuation difference", "Amazing Grace!", "", "Amazing Grace-c"},
		{"case difference", "HALLELUJAH CHORUS", "", "Hallelujah Chorus-d"},
		{"closest title wins", "Ave Maria", "", "Ave Maria-b"},
		{"composer narrows candidates", "Ave Maria", "Schubert", ""},
		{"unrelated title", "Danny Boy", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.FindExisting(ctx, tt.title, tt.composer)
			if err != nil {
				t.Fatalf("FindExisting() error = %v", err)
			}
			if tt.wantID == "" {
				if got != nil {
					t.Errorf("FindExisting() = %q, want no match", got.ID)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("FindExisting() = %v, want %q", got, tt.wantID)
			}
		})
	}
}

func TestSimilarityMatcher_TieBreak(t *testing.T) {
	store := seedCatalog(
		catalog.Entry{Title: "Ave Maria"},
		catalog.Entry{Title: "Ave Maria"},
	)
	m := NewSimilarityMatcher(store, 0.9)

	got, err := m.FindExisting(context.Background(), "Ave Maria", "")
	if err != nil {
		t.Fatalf("FindExisting() error = %v", err)
	}
	if got == nil || got.ID != "Ave Maria-a" {
		t.Errorf("FindExisting() = %v, want the earliest entry", got)
	}
}

func TestSimilarityMatcher_ThresholdDefault(t *testing.T) {
	for _, th := range []float64{0, -1, 1.5} {
		if got := NewSimilarityMatcher(catalog.NewMemoryStore(), th).Threshold(); got != DefaultSimilarityThreshold {
			t.Errorf("threshold %v: Threshold() = %v, want default", th, got)
		}
	}
	if got := NewSimilarityMatcher(catalog.NewMemoryStore(), 0.8).Threshold(); got != 0.8 {
		t.Errorf("Threshold() = %v, want 0.8", got)
	}
}

func TestMatcher_LookupError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, m := range []Matcher{
		NewSubstringMatcher(libraryFixture()),
		NewSimilarityMatcher(libraryFixture(), 0),
	} {
		if _, err := m.FindExisting(ctx, "Amazing Grace", ""); err == nil {
			t.Errorf("%T: expected error on cancelled context", m)
		}
	}
}

func TestNewMatcher(t *testing.T) {
	store := catalog.NewMemoryStore()

	m, err := NewMatcher("", store, MatcherOptions{})
	if err != nil {
		t.Fatalf("NewMatcher(\"\") error = %v", err)
	}
	if _, ok := m.(*SubstringMatcher); !ok {
		t.Errorf("default policy = %T, want *SubstringMatcher", m)
	}

	m, err = NewMatcher("Similarity", store, MatcherOptions{SimilarityThreshold: 0.85})
	if err != nil {
		t.Fatalf("NewMatcher(similarity) error = %v", err)
	}
	sm, ok := m.(*SimilarityMatcher)
	if !ok {
		t.Fatalf("policy = %T, want *SimilarityMatcher", m)
	}
	if sm.Threshold() != 0.85 {
		t.Errorf("Threshold() = %v, want 0.85", sm.Threshold())
	}

	if _, err := NewMatcher("phonetic", store, MatcherOptions{}); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestPolicies(t *testing.T) {
	got := Policies()
	if len(got) < 2 || got[0] != PolicySimilarity || got[1] != PolicySubstring {
		t.Errorf("Policies() = %v", got)
	}
}

func TestRegisterPolicy_Duplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate policy")
		}
	}()
	RegisterPolicy(PolicySubstring, func(r catalog.Reader, _ MatcherOptions) Matcher {
		return NewSubstringMatcher(r)
	})
}
