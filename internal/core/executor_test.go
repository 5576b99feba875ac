package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/libinventory/internal/catalog"
	"github.com/JonMunkholm/libinventory/internal/identity"
)

var fixedDay = time.Date(2024, 5, 4, 13, 30, 0, 0, time.UTC)

func testExecutor(m Matcher, w catalog.Writer, opts ...func(*ExecutorConfig)) *Executor {
	cfg := ExecutorConfig{
		CallTimeout: time.Second,
		Clock:       func() time.Time { return fixedDay },
	}
	for _, o := range opts {
		o(&cfg)
	}
	return NewExecutor(m, w, cfg)
}

func mustParse(t *testing.T, csv string) (*Table, ColumnMapping) {
	t.Helper()
	table, err := Parse([]byte(csv))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	mapper := NewColumnMapper(table.Headers)
	mapper.AutoMap()
	return table, mapper.Mapping()
}

func checkInvariants(t *testing.T, rep *ImportReport) {
	t.Helper()
	if rep.Success != rep.Created+rep.Updated {
		t.Errorf("Success %d != Created %d + Updated %d", rep.Success, rep.Created, rep.Updated)
	}
	if rep.Success+rep.Errors != len(rep.Outcomes) {
		t.Errorf("Success %d + Errors %d != outcomes %d", rep.Success, rep.Errors, len(rep.Outcomes))
	}
}

// failingMatcher fails every lookup.
type failingMatcher struct{ err error }

func (m failingMatcher) FindExisting(context.Context, string, string) (*catalog.Entry, error) {
	return nil, m.err
}

// blockingWriter blocks each write until its context ends.
type blockingWriter struct{}

func (blockingWriter) Create(ctx context.Context, _ catalog.NewEntry) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingWriter) Update(ctx context.Context, _ string, _ catalog.Patch) error {
	<-ctx.Done()
	return ctx.Err()
}

// flakyWriter fails creates for one title.
type flakyWriter struct {
	*catalog.MemoryStore
	failTitle string
}

func (w flakyWriter) Create(ctx context.Context, e catalog.NewEntry) (string, error) {
	if e.Title == w.failTitle {
		return "", errors.New("connection reset by peer")
	}
	return w.MemoryStore.Create(ctx, e)
}

func TestExecutor_CreateThenUpdateInOneFile(t *testing.T) {
	store := catalog.NewMemoryStore()
	table, mapping := mustParse(t, strings.Join([]string{
		"Title,Composer,Library Number,Voicing,Physical Copies",
		"Amazing Grace,John Newton,A-001,SATB,3",
		"Amazing Grace,John Newton,,,4",
	}, "\n"))

	ctx := identity.WithUser(context.Background(), "director")
	rep, err := testExecutor(NewSubstringMatcher(store), store).Run(ctx, table, mapping)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	checkInvariants(t, rep)

	if rep.Created != 1 || rep.Updated != 1 || rep.Errors != 0 {
		t.Fatalf("report = %s", rep.Summary())
	}
	if got := rep.Outcomes[0].Message; got != "Created new entry with 3 physical copies" {
		t.Errorf("row 1 message = %q", got)
	}
	if got := rep.Outcomes[1].Message; got != "Updated physical copies: 4" {
		t.Errorf("row 2 message = %q", got)
	}
	if rep.Outcomes[0].EntryID != rep.Outcomes[1].EntryID {
		t.Error("second row should update the entry created by the first")
	}

	if store.Len() != 1 {
		t.Fatalf("store has %d entries, want 1", store.Len())
	}
	e, _ := store.Get(rep.Outcomes[0].EntryID)
	if e.PhysicalCopiesCount != 4 {
		t.Errorf("copies = %d, want 4", e.PhysicalCopiesCount)
	}
	if catalog.Deref(e.PhysicalLocation) != "A-001" || catalog.Deref(e.Voicing) != "SATB" {
		t.Errorf("location/voicing = %q/%q, want kept", catalog.Deref(e.PhysicalLocation), catalog.Deref(e.Voicing))
	}
	if e.CreatedBy != "director" || !e.IsPublic {
		t.Errorf("CreatedBy = %q, IsPublic = %v", e.CreatedBy, e.IsPublic)
	}
	if want := time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC); e.LastInventoryDate == nil || !e.LastInventoryDate.Equal(want) {
		t.Errorf("LastInventoryDate = %v, want %v", e.LastInventoryDate, want)
	}
}

func TestExecutor_RowErrorsDoNotStopTheBatch(t *testing.T) {
	store := catalog.NewMemoryStore()
	table, mapping := mustParse(t, strings.Join([]string{
		"Title,Composer,Physical Copies",
		"Amazing Grace,John Newton,3",
		",Nobody,2",
		"Ave Maria,Franz Schubert,-1",
		"Hallelujah Chorus,Handel,5",
	}, "\n"))

	rep, err := testExecutor(NewSubstringMatcher(store), store).Run(context.Background(), table, mapping)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	checkInvariants(t, rep)

	want := []struct {
		title   string
		status  RowStatus
		message string
	}{
		{"Amazing Grace", StatusCreated, "Created new entry with 3 physical copies"},
		{UnknownTitle, StatusError, ReasonMissingTitle},
		{"Ave Maria", StatusError, ReasonInvalidCopies},
		{"Hallelujah Chorus", StatusCreated, "Created new entry with 5 physical copies"},
	}
	if len(rep.Outcomes) != len(want) {
		t.Fatalf("got %d outcomes, want %d", len(rep.Outcomes), len(want))
	}
	for i, w := range want {
		o := rep.Outcomes[i]
		if o.Row != i+1 || o.Title != w.title || o.Status != w.status || o.Message != w.message {
			t.Errorf("outcome %d = %+v, want %+v", i, o, w)
		}
	}
	if rep.Outcomes[1].Line != 3 {
		t.Errorf("line = %d, want 3", rep.Outcomes[1].Line)
	}
	if store.Len() != 2 {
		t.Errorf("store has %d entries, want 2", store.Len())
	}
}

func TestExecutor_InteriorBlankLinesAreRowErrors(t *testing.T) {
	store := catalog.NewMemoryStore()
	table, mapping := mustParse(t, strings.Join([]string{
		"Title,Composer,Library Number,Physical Copies",
		"Amazing Grace,Newton,,3",
		"",
		",,,",
		"Ave Maria,Schubert,,2",
		"",
	}, "\n"))

	rep, err := testExecutor(NewSubstringMatcher(store), store).Run(context.Background(), table, mapping)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	checkInvariants(t, rep)

	if len(rep.Outcomes) != 4 || rep.Success != 2 || rep.Errors != 2 {
		t.Fatalf("report = %s with %d outcomes, want 4 outcomes and 2 errors", rep.Summary(), len(rep.Outcomes))
	}
	for _, i := range []int{1, 2} {
		o := rep.Outcomes[i]
		if o.Status != StatusError || o.Message != ReasonMissingTitle || o.Line != i+2 {
			t.Errorf("outcome %d = %+v, want missing title on line %d", i, o, i+2)
		}
	}
}

func TestExecutor_ReimportIsIdempotent(t *testing.T) {
	store := catalog.NewMemoryStore()
	csv := string(TemplateCSV())

	for run := 1; run <= 2; run++ {
		table, mapping := mustParse(t, csv)
		rep, err := testExecutor(NewSubstringMatcher(store), store).Run(context.Background(), table, mapping)
		if err != nil {
			t.Fatalf("run %d: Run() error = %v", run, err)
		}
		checkInvariants(t, rep)

		if run == 1 && rep.Created != 3 {
			t.Errorf("run 1: created = %d, want 3", rep.Created)
		}
		if run == 2 && (rep.Updated != 3 || rep.Created != 0) {
			t.Errorf("run 2: %s, want 3 updates", rep.Summary())
		}
	}
	if store.Len() != 3 {
		t.Errorf("store has %d entries, want 3", store.Len())
	}
}

func TestExecutor_MappingErrorWritesNothing(t *testing.T) {
	store := catalog.NewMemoryStore()
	table, mapping := mustParse(t, "Song,How Many\nAmazing Grace,3\n")

	rep, err := testExecutor(NewSubstringMatcher(store), store).Run(context.Background(), table, mapping)

	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("Run() error = %v, want *MappingError", err)
	}
	if rep != nil {
		t.Error("report should be nil")
	}
	if store.Len() != 0 {
		t.Errorf("store has %d entries, want 0", store.Len())
	}
}

func TestExecutor_LookupError(t *testing.T) {
	store := catalog.NewMemoryStore()
	table, mapping := mustParse(t, "Title,Physical Copies\nAmazing Grace,3\n")

	rep, err := testExecutor(failingMatcher{err: errors.New("boom")}, store).Run(context.Background(), table, mapping)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rep.Errors != 1 || rep.Outcomes[0].Message != "Lookup error: boom" {
		t.Errorf("outcome = %+v", rep.Outcomes[0])
	}
	if store.Len() != 0 {
		t.Error("a failed lookup must not create")
	}
}

func TestExecutor_DatabaseError(t *testing.T) {
	store := catalog.NewMemoryStore()
	w := flakyWriter{MemoryStore: store, failTitle: "Ave Maria"}
	table, mapping := mustParse(t, "Title,Physical Copies\nAve Maria,2\nAmazing Grace,3\n")

	rep, err := testExecutor(NewSubstringMatcher(store), w).Run(context.Background(), table, mapping)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	checkInvariants(t, rep)
	if got := rep.Outcomes[0].Message; got != "Database error: connection reset by peer" {
		t.Errorf("row 1 message = %q", got)
	}
	if rep.Outcomes[1].Status != StatusCreated {
		t.Errorf("row 2 status = %s, want created", rep.Outcomes[1].Status)
	}
}

func TestExecutor_CallTimeout(t *testing.T) {
	store := catalog.NewMemoryStore()
	table, mapping := mustParse(t, "Title,Physical Copies\nAmazing Grace,3\nAve Maria,2\n")

	exec := testExecutor(NewSubstringMatcher(store), blockingWriter{}, func(c *ExecutorConfig) {
		c.CallTimeout = 20 * time.Millisecond
	})

	start := time.Now()
	rep, err := exec.Run(context.Background(), table, mapping)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("writes were not bounded by the call timeout")
	}
	if rep.Errors != 2 {
		t.Fatalf("errors = %d, want 2", rep.Errors)
	}
	for _, o := range rep.Outcomes {
		if !strings.HasPrefix(o.Message, "Database error: ") || !strings.Contains(o.Message, "deadline exceeded") {
			t.Errorf("message = %q", o.Message)
		}
	}
}

func TestExecutor_Cancellation(t *testing.T) {
	store := catalog.NewMemoryStore()
	table, mapping := mustParse(t, "Title,Physical Copies\nA,1\nB,2\nC,3\nD,4\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var snapshots []Progress
	exec := testExecutor(NewSubstringMatcher(store), store, func(c *ExecutorConfig) {
		c.OnProgress = func(p Progress) {
			snapshots = append(snapshots, p)
			if p.Row == 2 {
				cancel()
			}
		}
	})

	rep, err := exec.Run(ctx, table, mapping)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	checkInvariants(t, rep)

	if !rep.Cancelled {
		t.Error("Cancelled not set")
	}
	if len(rep.Outcomes) != 2 || store.Len() != 2 {
		t.Errorf("outcomes = %d, entries = %d; want 2 and 2", len(rep.Outcomes), store.Len())
	}
	if rep.Total != 4 {
		t.Errorf("Total = %d, want 4", rep.Total)
	}
	if len(snapshots) != 2 || snapshots[1].Created != 2 {
		t.Errorf("snapshots = %+v", snapshots)
	}
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	store := catalog.NewMemoryStore()
	table, mapping := mustParse(t, "Title,Physical Copies\nA,1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := testExecutor(NewSubstringMatcher(store), store).Run(ctx, table, mapping)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !rep.Cancelled || len(rep.Outcomes) != 0 || store.Len() != 0 {
		t.Errorf("report = %+v, entries = %d", rep, store.Len())
	}
}

func TestExecutor_PacingSkipsInvalidRows(t *testing.T) {
	store := catalog.NewMemoryStore()
	table, mapping := mustParse(t, "Title,Physical Copies\n,1\n,2\n,3\nA,1\n")

	exec := testExecutor(NewSubstringMatcher(store), store, func(c *ExecutorConfig) {
		c.RowRate = 1
	})

	start := time.Now()
	rep, err := exec.Run(context.Background(), table, mapping)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// One paced row fits in the initial burst.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("run took %v, invalid rows should not be paced", elapsed)
	}
	if rep.Errors != 3 || rep.Created != 1 {
		t.Errorf("report = %s", rep.Summary())
	}
}
