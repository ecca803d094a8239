package updater

import (
	"context"
	"testing"
	"time"

	"github.com/snider/plugin-updater/store"
)

func TestCacheKey(t *testing.T) {
	got := CacheKey("acme_", "acme", "widget")
	if got != "acme_latest_release_acme_widget" {
		t.Errorf("unexpected cache key: %s", got)
	}
}

func TestReleaseCache(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(time.Minute)
	cache := NewReleaseCache(s, "acme_", "acme", "widget", time.Minute)

	if _, ok, err := cache.Get(ctx); ok || err != nil {
		t.Fatalf("expected empty cache, got ok=%v err=%v", ok, err)
	}

	record := ReleaseRecord{
		Version:       "1.3.0",
		PublishedAt:   "2024-05-01T10:00:00Z",
		DownloadURL:   "https://api.example.com/assets/1",
		DownloadCount: 5,
		Body:          "notes",
		Tested:        "6.5",
	}
	if err := cache.Set(ctx, record); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := cache.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("expected cached record, got ok=%v err=%v", ok, err)
	}
	if got != record {
		t.Errorf("cached record = %+v, want %+v", got, record)
	}

	if err := cache.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := cache.Get(ctx); ok {
		t.Error("expected cache miss after delete")
	}
}

func TestReleaseCache_Unusable(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(time.Minute)
	cache := NewReleaseCache(s, "acme_", "acme", "widget", 0)

	// A snapshot without a download url is not a usable record.
	if err := cache.Set(ctx, ReleaseRecord{Version: "1.0.0"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, err := cache.Get(ctx); ok || err != nil {
		t.Errorf("expected unusable snapshot, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, cache.Key(), []byte("{not json"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, err := cache.Get(ctx); ok || err == nil {
		t.Errorf("expected decode error, got ok=%v err=%v", ok, err)
	}
}

func TestReleaseCache_Expires(t *testing.T) {
	ctx := context.Background()
	cache := NewReleaseCache(store.NewMemory(time.Minute), "p_", "acme", "widget", 50*time.Millisecond)

	if err := cache.Set(ctx, ReleaseRecord{Version: "1.0.0", DownloadURL: "https://example.com/a"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok, _ := cache.Get(ctx); ok {
		t.Error("expected expired snapshot")
	}
}
