package discover

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFactFiles_Walk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "lib/b.facts.json", "{}")
	writeFile(t, dir, "lib/a.facts.yaml", "{}")
	writeFile(t, dir, "lib/c.facts.yml", "{}")
	writeFile(t, dir, "lib/readme.txt", "x")
	writeFile(t, dir, "deps/dep.facts.json", "{}")
	writeFile(t, dir, ".cache/hidden.facts.json", "{}")
	writeFile(t, dir, "tmp/ignored.facts.json", "{}")
	writeFile(t, dir, "lib/skip.facts.json", "{}")
	writeFile(t, dir, ".gitignore", "tmp/\nskip.facts.json\n")

	got, err := FactFiles([]string{dir})
	if err != nil {
		t.Fatalf("FactFiles: %v", err)
	}
	want := []string{
		filepath.Join(dir, "lib", "a.facts.yaml"),
		filepath.Join(dir, "lib", "b.facts.json"),
		filepath.Join(dir, "lib", "c.facts.yml"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFactFiles_ExplicitFilesAndDuplicates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	explicit := writeFile(t, dir, "units.json", "{}")
	walked := writeFile(t, dir, "sub/x.facts.json", "{}")

	got, err := FactFiles([]string{explicit, filepath.Join(dir, "sub"), walked})
	if err != nil {
		t.Fatalf("FactFiles: %v", err)
	}
	if len(got) != 2 || got[0] != explicit || got[1] != walked {
		t.Errorf("got %v", got)
	}
}

func TestFactFiles_Missing(t *testing.T) {
	t.Parallel()

	if _, err := FactFiles([]string{filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestIsFactFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"a.facts.json", true},
		{"A.FACTS.YAML", true},
		{"a.facts.yml", true},
		{"a.json", false},
		{"facts.json", false},
	}
	for _, tt := range tests {
		if got := IsFactFile(tt.name); got != tt.want {
			t.Errorf("IsFactFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
