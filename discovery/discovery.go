// Package discovery enumerates test sources and applies the substring filter.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum-optimism/infra/progtest/types"
)

// DefaultSuffix is the extension of toy language sources.
const DefaultSuffix = ".prog"

// Discover returns the regular files directly inside dir whose name ends in
// suffix, as dir-joined paths sorted by name.
func Discover(dir, suffix string) ([]string, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tests directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		// Stat follows symlinks so linked sources are included.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// Filter keeps the paths containing pattern as a substring, in order.
// An empty pattern keeps everything.
func Filter(paths []string, pattern string) []string {
	if pattern == "" {
		return paths
	}
	var out []string
	for _, p := range paths {
		if strings.Contains(p, pattern) {
			out = append(out, p)
		}
	}
	return out
}

// Select discovers, filters and wraps the sources as test cases. Artifact
// paths derive from the case name, so two sources resolving to the same
// name are rejected.
func Select(dir, suffix, pattern string) ([]types.TestCase, error) {
	paths, err := Discover(dir, suffix)
	if err != nil {
		return nil, err
	}
	paths = Filter(paths, pattern)
	cases := make([]types.TestCase, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		tc := types.NewTestCase(p)
		if prev, ok := seen[tc.Name]; ok {
			return nil, fmt.Errorf("test sources %s and %s share the name %q", prev, p, tc.Name)
		}
		seen[tc.Name] = p
		cases = append(cases, tc)
	}
	return cases, nil
}
