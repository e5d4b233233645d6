package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
)

func seed(t *testing.T, repo *RecordRepository, model string, attrs ...map[string]any) []*entities.Record {
	t.Helper()
	var out []*entities.Record
	for _, a := range attrs {
		rec := &entities.Record{Model: model, Attributes: a}
		require.NoError(t, repo.Create(context.Background(), rec))
		out = append(out, rec)
	}
	return out
}

func TestRecordRepository_CRUD(t *testing.T) {
	store := NewStore()
	repo := store.Records()
	ctx := context.Background()

	rec := &entities.Record{Model: "post", Attributes: map[string]any{"title": "Hello"}}
	require.NoError(t, repo.Create(ctx, rec))
	assert.NotZero(t, rec.ID)

	found, err := repo.Find(ctx, "post", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", found.Get("title"))

	found.Set("title", "Changed")
	require.NoError(t, repo.Update(ctx, found))

	again, err := repo.Find(ctx, "post", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Changed", again.Get("title"))

	require.NoError(t, repo.Delete(ctx, "post", rec.ID))
	_, err = repo.Find(ctx, "post", rec.ID)
	assert.True(t, errors.Is(err, entities.ErrRecordNotFound))
}

func TestRecordRepository_FindIsolatesCopies(t *testing.T) {
	store := NewStore()
	repo := store.Records()
	recs := seed(t, repo, "post", map[string]any{"title": "a"})

	found, err := repo.Find(context.Background(), "post", recs[0].ID)
	require.NoError(t, err)
	found.Set("title", "mutated")

	again, err := repo.Find(context.Background(), "post", recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Get("title"))
}

func TestRecordRepository_List(t *testing.T) {
	store := NewStore()
	repo := store.Records()
	ctx := context.Background()
	recs := seed(t, repo, "comment",
		map[string]any{"body": "first post", "post_id": int64(1), "rank": 3},
		map[string]any{"body": "second reply", "post_id": int64(1), "rank": 1},
		map[string]any{"body": "orphan", "rank": 2},
	)

	t.Run("where equality", func(t *testing.T) {
		got, err := repo.List(ctx, "comment", &repositories.RecordFilter{Where: map[string]any{"post_id": 1}})
		require.NoError(t, err)
		assert.Equal(t, []int64{recs[0].ID, recs[1].ID}, entities.RecordIDs(got))
	})

	t.Run("where null", func(t *testing.T) {
		got, err := repo.List(ctx, "comment", &repositories.RecordFilter{Where: map[string]any{"post_id": nil}})
		require.NoError(t, err)
		assert.Equal(t, []int64{recs[2].ID}, entities.RecordIDs(got))
	})

	t.Run("exclude ids", func(t *testing.T) {
		got, err := repo.List(ctx, "comment", &repositories.RecordFilter{ExcludeIDs: []int64{recs[0].ID}})
		require.NoError(t, err)
		assert.Equal(t, []int64{recs[1].ID, recs[2].ID}, entities.RecordIDs(got))
	})

	t.Run("empty id restriction matches nothing", func(t *testing.T) {
		got, err := repo.List(ctx, "comment", &repositories.RecordFilter{IDs: []int64{}})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("order and paging", func(t *testing.T) {
		got, err := repo.List(ctx, "comment", &repositories.RecordFilter{
			OrderBy: []repositories.Sort{{Column: "rank"}},
			Limit:   2,
			Offset:  1,
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{recs[2].ID, recs[0].ID}, entities.RecordIDs(got))
	})

	t.Run("search all words", func(t *testing.T) {
		got, err := repo.List(ctx, "comment", &repositories.RecordFilter{Search: "FIRST post", SearchColumns: []string{"body"}})
		require.NoError(t, err)
		assert.Equal(t, []int64{recs[0].ID}, entities.RecordIDs(got))
	})

	t.Run("search any word", func(t *testing.T) {
		got, err := repo.List(ctx, "comment", &repositories.RecordFilter{Search: "first orphan", SearchColumns: []string{"body"}, SearchMode: "any"})
		require.NoError(t, err)
		assert.Equal(t, []int64{recs[0].ID, recs[2].ID}, entities.RecordIDs(got))
	})

	t.Run("raw conditions rejected", func(t *testing.T) {
		_, err := repo.List(ctx, "comment", &repositories.RecordFilter{Conditions: []string{"1 = 1"}})
		assert.ErrorIs(t, err, ErrConditionsUnsupported)
	})

	t.Run("count ignores paging", func(t *testing.T) {
		n, err := repo.Count(ctx, "comment", &repositories.RecordFilter{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestPivotRepository(t *testing.T) {
	store := NewStore()
	records := store.Records()
	pivots := store.Pivots()
	ctx := context.Background()

	post := seed(t, records, "post", map[string]any{"title": "p"})[0]
	tags := seed(t, records, "tag", map[string]any{"name": "a"}, map[string]any{"name": "b"})
	key := repositories.PivotKey{Table: "post_tag"}

	require.NoError(t, pivots.Attach(ctx, key, []*entities.PivotRow{
		{OwnerID: post.ID, RelatedID: tags[0].ID, Data: map[string]any{"weight": 1}},
		{OwnerID: post.ID, RelatedID: tags[1].ID},
	}))
	// Attaching again leaves the row untouched.
	require.NoError(t, pivots.Attach(ctx, key, []*entities.PivotRow{
		{OwnerID: post.ID, RelatedID: tags[0].ID, Data: map[string]any{"weight": 9}},
	}))

	rows, err := pivots.Read(ctx, key, post.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Data["weight"])

	t.Run("inverse side", func(t *testing.T) {
		inverse, err := pivots.Read(ctx, repositories.PivotKey{Table: "post_tag", Inverse: true}, tags[0].ID)
		require.NoError(t, err)
		require.Len(t, inverse, 1)
		assert.Equal(t, post.ID, inverse[0].RelatedID)
	})

	t.Run("update", func(t *testing.T) {
		row, err := pivots.Find(ctx, key, post.ID, tags[1].ID)
		require.NoError(t, err)
		row.Data["weight"] = 5
		require.NoError(t, pivots.Update(ctx, key, row))

		again, err := pivots.Find(ctx, key, post.ID, tags[1].ID)
		require.NoError(t, err)
		assert.Equal(t, 5, again.Data["weight"])
	})

	t.Run("deleting a record cascades", func(t *testing.T) {
		require.NoError(t, records.Delete(ctx, "tag", tags[1].ID))
		rows, err := pivots.Read(ctx, key, post.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("detach", func(t *testing.T) {
		require.NoError(t, pivots.Detach(ctx, key, post.ID, []int64{tags[0].ID}))
		rows, err := pivots.Read(ctx, key, post.ID)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	store := NewStore()
	records := store.Records()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, records.Create(ctx, &entities.Record{Model: "post"}))
		return store.WithinTx(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	n, err := records.Count(ctx, "post", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context) error {
		return records.Create(ctx, &entities.Record{Model: "post"})
	}))
	n, err = records.Count(ctx, "post", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeferredBindingRepository(t *testing.T) {
	store := NewStore()
	repo := store.DeferredBindings()
	ctx := context.Background()

	a := &entities.DeferredBinding{MasterType: "post", MasterField: "comments", SlaveType: "comment", SlaveID: 1, SessionKey: "A", IsBind: true}
	b := &entities.DeferredBinding{MasterType: "post", MasterField: "comments", SlaveType: "comment", SlaveID: 2, SessionKey: "B", IsBind: true}
	require.NoError(t, repo.Write(ctx, a))
	require.NoError(t, repo.Write(ctx, b))

	got, err := repo.Read(ctx, &repositories.DeferredBindingFilter{SessionKey: "A"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].SlaveID)

	_, err = repo.Read(ctx, &repositories.DeferredBindingFilter{})
	assert.Error(t, err)

	require.NoError(t, repo.Delete(ctx, a.ID))
	n, err := repo.Count(ctx, &repositories.DeferredBindingFilter{SessionKey: "A"})
	require.NoError(t, err)
	assert.Zero(t, n)
}
