package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dshills/tenet/internal/review"
)

func samplePayload() *Payload {
	return &Payload{
		Findings: []review.Finding{{
			RuleID:         "tests.sleep",
			Category:       review.CategoryTestDesign,
			Severity:       review.SeverityWarn,
			SourceUnit:     "test/a_test.ex",
			Symbol:         "test waits",
			Span:           review.Span{StartLine: 4, EndLine: 9},
			Message:        "test waits with a sleep",
			SuppressionKey: "tests.sleep",
		}},
		Warnings: []review.EvaluationWarning{{RuleID: "r", SourceUnit: "u", Reason: "boom"}},
	}
}

func countEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == entryExt {
			n++
		}
	}
	return n
}

func TestCache_PutGet(t *testing.T) {
	dir := t.TempDir()
	c, err := New(true, dir, 86400)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	key := HashKey([]byte("digest"), []byte("unit"))

	if _, ok := c.Get(key); ok {
		t.Error("Expected cache miss before put")
	}
	if err := c.Put(key, samplePayload()); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Expected cache hit after put")
	}
	want := samplePayload()
	if len(got.Findings) != 1 || got.Findings[0] != want.Findings[0] {
		t.Errorf("Findings = %+v, want %+v", got.Findings, want.Findings)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != want.Warnings[0] {
		t.Errorf("Warnings = %+v", got.Warnings)
	}
	if got.Schema != schemaVersion {
		t.Errorf("Schema = %d, want %d", got.Schema, schemaVersion)
	}
	// no temp files left behind
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("cache dir holds %d files, want 1", len(entries))
	}
}

func writeRaw(t *testing.T, c *Cache, key string, p Payload) {
	t.Helper()
	data, err := msgpack.Marshal(&p)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c.entryPath(key), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCache_TTLExpiration(t *testing.T) {
	c, err := New(true, t.TempDir(), 60)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	key := HashKey([]byte("old"))
	writeRaw(t, c, key, Payload{Schema: schemaVersion, CreatedAt: time.Now().Add(-time.Hour).Unix()})

	stats, err := c.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Expired != 1 {
		t.Errorf("Expired = %d, want 1", stats.Expired)
	}
	if _, ok := c.Get(key); ok {
		t.Error("Expected cache miss after TTL expiration")
	}
	if n := countEntries(t, c.Dir()); n != 0 {
		t.Errorf("expired entry not removed, %d left", n)
	}
}

func TestCache_SchemaMismatchIsMiss(t *testing.T) {
	c, err := New(true, t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	key := HashKey([]byte("v0"))
	writeRaw(t, c, key, Payload{Schema: schemaVersion + 1, CreatedAt: time.Now().Unix()})
	if _, ok := c.Get(key); ok {
		t.Error("entry from another schema version should miss")
	}
	stats, _ := c.GetStats()
	if stats.Stale != 1 {
		t.Errorf("Stale = %d, want 1", stats.Stale)
	}
}

func TestCache_Disabled(t *testing.T) {
	c, err := New(false, "", 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if c.Enabled() {
		t.Error("Cache should be disabled")
	}
	if err := c.Put("key", samplePayload()); err != nil {
		t.Errorf("Put on disabled cache should not error: %v", err)
	}
	if _, ok := c.Get("key"); ok {
		t.Error("Get on disabled cache should always miss")
	}
	if _, err := c.Clear(); err != nil {
		t.Errorf("Clear on disabled cache should not error: %v", err)
	}

	var nilCache *Cache
	if _, ok := nilCache.Get("key"); ok || nilCache.Enabled() {
		t.Error("nil cache should behave as disabled")
	}
}

func TestCache_Clear(t *testing.T) {
	dir := t.TempDir()
	c, err := New(true, dir, 86400)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := c.Put(HashKey([]byte{byte('a' + i)}), samplePayload()); err != nil {
			t.Fatalf("Put error: %v", err)
		}
	}
	if n := countEntries(t, dir); n != 5 {
		t.Fatalf("Expected 5 cache entries, got %d", n)
	}

	removed, err := c.Clear()
	if err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if removed != 5 {
		t.Errorf("removed = %d, want 5", removed)
	}
	if n := countEntries(t, dir); n != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", n)
	}
}

func TestCache_Prune(t *testing.T) {
	dir := t.TempDir()
	c, err := New(true, dir, 60)
	if err != nil {
		t.Fatal(err)
	}
	fresh := HashKey([]byte("fresh"))
	if err := c.Put(fresh, samplePayload()); err != nil {
		t.Fatal(err)
	}
	writeRaw(t, c, HashKey([]byte("old")), Payload{Schema: schemaVersion, CreatedAt: time.Now().Add(-time.Hour).Unix()})
	writeRaw(t, c, HashKey([]byte("other")), Payload{Schema: schemaVersion + 1, CreatedAt: time.Now().Unix()})
	if err := os.WriteFile(filepath.Join(dir, HashKey([]byte("junk"))+entryExt), []byte("not msgpack"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := c.Prune()
	if err != nil {
		t.Fatalf("Prune error: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if _, ok := c.Get(fresh); !ok {
		t.Error("fresh entry should survive Prune")
	}
	if n := countEntries(t, dir); n != 1 {
		t.Errorf("%d entries left, want 1", n)
	}
}

func TestCache_ConcurrentPut(t *testing.T) {
	c, err := New(true, t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	key := HashKey([]byte("shared"))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Put(key, samplePayload()); err != nil {
				t.Errorf("Put error: %v", err)
			}
			c.Get(key)
		}()
	}
	wg.Wait()
	if _, ok := c.Get(key); !ok {
		t.Error("expected a readable entry after concurrent writes")
	}
}

func TestCache_GetStats(t *testing.T) {
	dir := t.TempDir()
	c, err := New(true, dir, 86400)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	stats, err := c.GetStats()
	if err != nil {
		t.Fatalf("GetStats error: %v", err)
	}
	if stats.Entries != 0 {
		t.Errorf("Entries = %d, want 0", stats.Entries)
	}

	c.Put(HashKey([]byte("key1")), samplePayload())
	c.Put(HashKey([]byte("key2")), samplePayload())

	stats, err = c.GetStats()
	if err != nil {
		t.Fatalf("GetStats error: %v", err)
	}
	if stats.Entries != 2 {
		t.Errorf("Entries = %d, want 2", stats.Entries)
	}
	if stats.TotalBytes <= 0 {
		t.Error("TotalBytes should be > 0")
	}
	if stats.Dir != dir {
		t.Errorf("Dir = %q, want %q", stats.Dir, dir)
	}
}

func TestHashKey(t *testing.T) {
	h1 := HashKey([]byte("test"))
	h2 := HashKey([]byte("test"))
	h3 := HashKey([]byte("other"))

	if h1 != h2 {
		t.Error("Same input should produce same hash")
	}
	if h1 == h3 {
		t.Error("Different input should produce different hash")
	}
	if len(h1) != 64 {
		t.Errorf("Hash length = %d, want 64", len(h1))
	}
	if HashKey([]byte("ab"), []byte("c")) == HashKey([]byte("a"), []byte("bc")) {
		t.Error("part boundaries should affect the hash")
	}
}

func TestDefaultDir_XDG(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
	d, err := DefaultDir()
	if err != nil {
		t.Fatal(err)
	}
	if d != filepath.Join("/tmp/xdg", "tenet") {
		t.Errorf("DefaultDir = %q", d)
	}
}
