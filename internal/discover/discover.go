// Package discover finds fact files to analyze.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// Suffixes lists the fact file name endings picked up when walking a
// directory.
var Suffixes = []string{".facts.json", ".facts.yaml", ".facts.yml"}

var skipDirs = map[string]struct{}{
	"node_modules": {},
	"_build":       {},
	"deps":         {},
	"vendor":       {},
	"build":        {},
	"dist":         {},
}

// IsFactFile reports whether name carries one of the fact file suffixes.
func IsFactFile(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range Suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// FactFiles expands paths into fact files. Files are taken as given;
// directories are walked, skipping hidden and dependency directories and
// anything matched by the directory's .gitignore. Each directory's results
// are sorted; argument order is kept and duplicates are dropped.
func FactFiles(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		clean := filepath.Clean(p)
		if !seen[clean] {
			seen[clean] = true
			out = append(out, clean)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		found, err := walk(p)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			add(f)
		}
	}
	return out, nil
}

func walk(root string) ([]string, error) {
	gi := loadGitignore(root)
	var results []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if gi != nil && gi.MatchesPath(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Type()&os.ModeSymlink != 0 || strings.HasPrefix(name, ".") {
			return nil
		}
		if IsFactFile(name) {
			results = append(results, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(results)
	return results, nil
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
