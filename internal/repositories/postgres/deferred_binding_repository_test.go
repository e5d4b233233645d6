package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
)

func TestDeferredBindingRepository(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	repo := NewPostgresDeferredBindingRepository(db)
	ctx := context.Background()

	binding := &entities.DeferredBinding{
		MasterType:  "post",
		MasterField: "comments",
		SlaveType:   "comment",
		SlaveID:     4,
		SessionKey:  "s1",
		IsBind:      true,
	}

	t.Run("正常系: 書き込み", func(t *testing.T) {
		if err := repo.Write(ctx, binding); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if binding.ID == 0 {
			t.Fatal("Expected ID to be assigned")
		}
	})

	t.Run("正常系: セッションキーで分離", func(t *testing.T) {
		n, err := repo.Count(ctx, &repositories.DeferredBindingFilter{SessionKey: "s1", MasterType: "post"})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if n != 1 {
			t.Errorf("Expected 1 binding for s1, got %d", n)
		}

		n, err = repo.Count(ctx, &repositories.DeferredBindingFilter{SessionKey: "s2"})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if n != 0 {
			t.Errorf("Expected 0 bindings for s2, got %d", n)
		}
	})

	t.Run("異常系: セッションキー必須", func(t *testing.T) {
		if _, err := repo.Read(ctx, &repositories.DeferredBindingFilter{}); err == nil {
			t.Error("Expected error without session key")
		}
	})

	t.Run("正常系: ピボットデータ更新", func(t *testing.T) {
		binding.PivotData = map[string]any{"role": "editor"}
		if err := repo.Update(ctx, binding); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		got, err := repo.Read(ctx, &repositories.DeferredBindingFilter{SessionKey: "s1"})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(got) != 1 || got[0].PivotData["role"] != "editor" {
			t.Errorf("Expected pivot data role=editor, got %+v", got)
		}
	})

	t.Run("正常系: 古いバインディングの削除", func(t *testing.T) {
		removed, err := repo.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(removed) != 1 || removed[0].SlaveID != 4 {
			t.Errorf("Expected the binding to be removed, got %+v", removed)
		}
	})
}
