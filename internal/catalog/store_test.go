package catalog

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var inventoryDay = time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

// backends returns every store the contract tests run against. PostgreSQL
// is included only when TEST_DATABASE_URL points at a scratch database.
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	out := map[string]Backend{"memory": NewMemoryStore()}

	lite, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { lite.Close() })
	out["sqlite"] = lite

	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		ctx := context.Background()
		be, err := Open(ctx, dsn)
		require.NoError(t, err)
		pg := be.(*PostgresStore)
		_, err = pg.db.Exec(ctx, `TRUNCATE music_library, mapping_templates, import_runs, audit_log`)
		require.NoError(t, err)
		t.Cleanup(func() { pg.Close() })
		out["postgres"] = pg
	}
	return out
}

func TestStore_CreateAndFind(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := store.Create(ctx, NewEntry{
				Title:               "Amazing Grace",
				Composer:            StringPtr("John Newton"),
				Voicing:             StringPtr("SATB"),
				PhysicalCopiesCount: 3,
				PhysicalLocation:    StringPtr("A-001"),
				LastInventoryDate:   inventoryDay,
				IsPublic:            true,
				CreatedBy:           "user-1",
			})
			require.NoError(t, err)
			require.NotEmpty(t, id)

			got, err := store.FindByTitleAndComposer(ctx, "amazing", "NEWTON")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, id, got.ID)
			assert.Equal(t, "Amazing Grace", got.Title)
			assert.Equal(t, "John Newton", Deref(got.Composer))
			assert.Equal(t, 3, got.PhysicalCopiesCount)
			assert.Equal(t, "A-001", Deref(got.PhysicalLocation))
			assert.True(t, got.IsPublic)
			assert.Equal(t, "user-1", got.CreatedBy)
			require.NotNil(t, got.LastInventoryDate)
			assert.Equal(t, "2024-03-09", got.LastInventoryDate.Format(DateLayout))
		})
	}
}

func TestStore_FindNoMatch(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Create(ctx, NewEntry{Title: "Ave Maria", Composer: StringPtr("Franz Schubert"),
				LastInventoryDate: inventoryDay, IsPublic: true, CreatedBy: "u"})
			require.NoError(t, err)

			got, err := store.FindByTitleAndComposer(ctx, "Ave Maria", "Bach")
			require.NoError(t, err)
			assert.Nil(t, got, "composer filter must narrow the match")

			got, err = store.FindByTitleAndComposer(ctx, "Hallelujah", "")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStore_FindLiteralWildcards(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Create(ctx, NewEntry{Title: "Gloria", LastInventoryDate: inventoryDay, CreatedBy: "u"})
			require.NoError(t, err)

			got, err := store.FindByTitleAndComposer(ctx, "G%a", "")
			require.NoError(t, err)
			assert.Nil(t, got, "percent sign must be matched literally")
		})
	}
}

func TestStore_FindFoldsUnicodeCase(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := store.Create(ctx, NewEntry{Title: "Élégie", Composer: StringPtr("Gabriel Fauré"), LastInventoryDate: inventoryDay, CreatedBy: "u"})
			require.NoError(t, err)

			got, err := store.FindByTitleAndComposer(ctx, "ÉLÉGIE", "FAURÉ")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, id, got.ID)

			cands, err := store.ListCandidates(ctx, "fauré")
			require.NoError(t, err)
			assert.Len(t, cands, 1)

			cands, err = store.ListCandidates(ctx, "DVOŘÁK")
			require.NoError(t, err)
			assert.Empty(t, cands)
		})
	}
}

func TestStore_EarliestCreatedWins(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := store.Create(ctx, NewEntry{Title: "Gloria in D", LastInventoryDate: inventoryDay, CreatedBy: "u"})
			require.NoError(t, err)
			_, err = store.Create(ctx, NewEntry{Title: "Gloria in Excelsis", LastInventoryDate: inventoryDay, CreatedBy: "u"})
			require.NoError(t, err)

			got, err := store.FindByTitleAndComposer(ctx, "gloria", "")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, first, got.ID)

			cands, err := store.ListCandidates(ctx, "")
			require.NoError(t, err)
			require.Len(t, cands, 2)
			assert.Equal(t, first, cands[0].ID)
		})
	}
}

func TestStore_UpdateKeepsTitleAndVoicing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := store.Create(ctx, NewEntry{
				Title:             "Ave Maria",
				Composer:          StringPtr("Franz Schubert"),
				Voicing:           StringPtr("SSA"),
				PhysicalLocation:  StringPtr("A-002"),
				LastInventoryDate: inventoryDay.AddDate(0, -1, 0),
				CreatedBy:         "u",
			})
			require.NoError(t, err)

			err = store.Update(ctx, id, Patch{
				PhysicalCopiesCount: 7,
				PhysicalLocation:    StringPtr("B-010"),
				LastInventoryDate:   inventoryDay,
			})
			require.NoError(t, err)

			got, err := store.FindByTitleAndComposer(ctx, "Ave Maria", "")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "Ave Maria", got.Title)
			assert.Equal(t, "Franz Schubert", Deref(got.Composer))
			assert.Equal(t, "SSA", Deref(got.Voicing), "nil voicing in patch must keep stored value")
			assert.Equal(t, 7, got.PhysicalCopiesCount)
			assert.Equal(t, "B-010", Deref(got.PhysicalLocation))
			assert.Equal(t, "2024-03-09", got.LastInventoryDate.Format(DateLayout))

			err = store.Update(ctx, id, Patch{
				PhysicalCopiesCount: 7,
				PhysicalLocation:    StringPtr("B-010"),
				LastInventoryDate:   inventoryDay,
				Voicing:             StringPtr("SATB"),
			})
			require.NoError(t, err)
			got, err = store.FindByTitleAndComposer(ctx, "Ave Maria", "")
			require.NoError(t, err)
			assert.Equal(t, "SATB", Deref(got.Voicing))
		})
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Update(context.Background(), uuid.NewString(), Patch{LastInventoryDate: inventoryDay})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Templates(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			saved, err := store.SaveTemplate(ctx, MappingTemplate{
				Name:    "Choir sheet",
				Mapping: map[string]string{"title": "Name", "physicalCopies": "Qty"},
				Headers: []string{"Name", "Qty"},
			})
			require.NoError(t, err)
			require.NotEmpty(t, saved.ID)

			_, err = store.SaveTemplate(ctx, MappingTemplate{Name: "Choir sheet", Mapping: map[string]string{}, Headers: []string{}})
			assert.Error(t, err, "duplicate names are rejected")

			got, err := store.GetTemplate(ctx, saved.ID)
			require.NoError(t, err)
			assert.Equal(t, "Qty", got.Mapping["physicalCopies"])
			assert.Equal(t, []string{"Name", "Qty"}, got.Headers)

			list, err := store.ListTemplates(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, store.DeleteTemplate(ctx, saved.ID))
			_, err = store.GetTemplate(ctx, saved.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSQLiteStore_ListTemplatesReportsCorruptRows(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.db.Exec(`INSERT INTO mapping_templates (id, name, mapping, headers, created_at, updated_at)
		VALUES ('t-1', 'Broken', '{not json', '[]', 0, 0)`)
	require.NoError(t, err)

	_, err = store.ListTemplates(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan template")
}

func TestStore_RunsAndAudit(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			outcomes, _ := json.Marshal([]map[string]any{{"row": 1, "status": "created"}})
			run := ImportRun{
				ID:         uuid.NewString(),
				FileName:   "library.csv",
				UserID:     "user-1",
				Total:      1,
				Created:    1,
				Outcomes:   outcomes,
				StartedAt:  time.Now().Add(-time.Second).UTC(),
				FinishedAt: time.Now().UTC(),
			}
			require.NoError(t, store.SaveRun(ctx, run))

			got, err := store.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, "library.csv", got.FileName)
			assert.Equal(t, 1, got.Created)
			assert.JSONEq(t, string(outcomes), string(got.Outcomes))

			runs, err := store.ListRuns(ctx, 10)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Empty(t, runs[0].Outcomes)

			require.NoError(t, store.AppendAudit(ctx, AuditRecord{Action: "import_run", Severity: "high", RunID: run.ID}))
			recs, err := store.ListAudit(ctx, 0)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, run.ID, recs[0].RunID)
		})
	}
}

func TestIsPostgresDSN(t *testing.T) {
	assert.True(t, IsPostgresDSN("postgres://localhost/lib"))
	assert.True(t, IsPostgresDSN("postgresql://localhost/lib"))
	assert.False(t, IsPostgresDSN("library.db"))
	assert.False(t, IsPostgresDSN("sqlite://library.db"))
}
