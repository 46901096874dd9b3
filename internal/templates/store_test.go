// internal/templates/store_test.go
package templates

import (
	"context"
	"errors"
	"testing"

	"github.com/user/deepscout/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorePutGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tpl := &types.Template{
		ID:           types.NewTemplateID(),
		Name:         "competitor-scan",
		SystemPrompt: "You are a market analyst.",
		Prompt:       "Research the competitive landscape for {{topic}}.",
		Model:        "o4-mini-deep-research",
		Temperature:  0.4,
		TopP:         0.9,
	}

	if err := store.Put(ctx, tpl); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != tpl.Name {
		t.Errorf("name mismatch: %q != %q", got.Name, tpl.Name)
	}
	if got.Prompt != tpl.Prompt {
		t.Errorf("prompt mismatch: %q != %q", got.Prompt, tpl.Prompt)
	}
	if got.Model != tpl.Model {
		t.Errorf("model mismatch: %q != %q", got.Model, tpl.Model)
	}
	if got.Temperature != 0.4 || got.TopP != 0.9 {
		t.Errorf("sampling params mismatch: %v / %v", got.Temperature, got.TopP)
	}
}

func TestStorePutUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tpl := &types.Template{
		ID:     types.TemplateID("tpl-upsert"),
		Name:   "v1",
		Prompt: "first",
	}
	if err := store.Put(ctx, tpl); err != nil {
		t.Fatal(err)
	}

	tpl.Name = "v2"
	tpl.Prompt = "second"
	if err := store.Put(ctx, tpl); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "v2" || got.Prompt != "second" {
		t.Errorf("expected overwritten template, got %+v", got)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 template after upsert, got %d", len(all))
	}
}

func TestStorePutEmptyID(t *testing.T) {
	store := openTestStore(t)

	err := store.Put(context.Background(), &types.Template{Name: "no-id"})
	if err == nil {
		t.Fatal("expected error for template without id")
	}
}

func TestStoreGetNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), types.TemplateID("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreListOrdered(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zebra", "alpha", "mango"} {
		tpl := &types.Template{
			ID:     types.NewTemplateID(),
			Name:   name,
			Prompt: "p",
		}
		if err := store.Put(ctx, tpl); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 templates, got %d", len(all))
	}
	if all[0].Name != "alpha" || all[1].Name != "mango" || all[2].Name != "zebra" {
		t.Errorf("expected name order alpha,mango,zebra, got %s,%s,%s", all[0].Name, all[1].Name, all[2].Name)
	}
}

func TestStoreDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tpl := &types.Template{
		ID:     types.TemplateID("tpl-del"),
		Name:   "deleteme",
		Prompt: "p",
	}
	if err := store.Put(ctx, tpl); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, tpl.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := store.Get(ctx, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	if err := store.Delete(ctx, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	tpl := &types.Template{
		ID:     types.TemplateID("tpl-persist"),
		Name:   "survivor",
		Prompt: "p",
	}
	if err := store1.Put(ctx, tpl); err != nil {
		t.Fatal(err)
	}
	store1.Close()

	store2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	got, err := store2.Get(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Name != "survivor" {
		t.Errorf("expected persisted template, got %+v", got)
	}
}
