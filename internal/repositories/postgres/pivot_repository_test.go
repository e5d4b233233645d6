package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
)

func TestPivotRepository(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	records := NewPostgresRecordRepository(db)
	pivots := NewPostgresPivotRepository(db)
	ctx := context.Background()

	create := func(model string) int64 {
		rec := entities.NewRecord(model)
		if err := records.Create(ctx, rec); err != nil {
			t.Fatalf("Failed to create record: %v", err)
		}
		return rec.ID
	}
	post := create("post")
	tag1 := create("tag")
	tag2 := create("tag")

	key := repositories.PivotKey{Table: "post_tag"}

	t.Run("正常系: アタッチ（冪等性）", func(t *testing.T) {
		rows := []*entities.PivotRow{
			{OwnerID: post, RelatedID: tag1, Data: map[string]any{"weight": "1"}},
			{OwnerID: post, RelatedID: tag2},
		}
		if err := pivots.Attach(ctx, key, rows); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if err := pivots.Attach(ctx, key, rows[:1]); err != nil {
			t.Fatalf("Expected no error on duplicate attach, got: %v", err)
		}

		got, err := pivots.Read(ctx, key, post)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 rows, got %d", len(got))
		}
	})

	t.Run("正常系: 逆方向の読み取り", func(t *testing.T) {
		inverse := repositories.PivotKey{Table: "post_tag", Inverse: true}
		got, err := pivots.Read(ctx, inverse, tag1)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(got) != 1 || got[0].RelatedID != post {
			t.Errorf("Expected tag1 to see post %d, got %+v", post, got)
		}
	})

	t.Run("正常系: ピボットデータ更新", func(t *testing.T) {
		row := &entities.PivotRow{OwnerID: post, RelatedID: tag1, Data: map[string]any{"weight": "5"}}
		if err := pivots.Update(ctx, key, row); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		got, err := pivots.Find(ctx, key, post, tag1)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if got.Data["weight"] != "5" {
			t.Errorf("Expected weight 5, got %v", got.Data["weight"])
		}
	})

	t.Run("正常系: デタッチ", func(t *testing.T) {
		if err := pivots.Detach(ctx, key, post, []int64{tag1}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if _, err := pivots.Find(ctx, key, post, tag1); !errors.Is(err, entities.ErrRecordNotFound) {
			t.Errorf("Expected ErrRecordNotFound, got: %v", err)
		}
	})

	t.Run("正常系: レコード削除でカスケード", func(t *testing.T) {
		if err := records.Delete(ctx, "tag", tag2); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		got, err := pivots.Read(ctx, key, post)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected no rows, got %d", len(got))
		}
	})
}
