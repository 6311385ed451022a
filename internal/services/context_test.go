package services_test

import (
	"context"
	"testing"

	"restorebench/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "20260101T000000-abc")
	ctx = services.WithStage(ctx, "degrade")
	ctx = services.WithItemKey(ctx, "id=s001,preset_name=blur")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "20260101T000000-abc" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "degrade" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if key, ok := services.ItemKeyFromContext(ctx); !ok || key != "id=s001,preset_name=blur" {
		t.Fatalf("unexpected item key: %v %v", key, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
