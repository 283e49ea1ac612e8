package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	AssemblySuffix = ".s"
	BinarySuffix   = ".out"
)

// Artifacts are the scratch files produced for one test case. Their paths
// depend only on the scratch directory and the test case name.
type Artifacts struct {
	Assembly string
	Binary   string
}

// Clean removes artifacts left over from a previous run.
func (a Artifacts) Clean() error {
	for _, path := range []string{a.Assembly, a.Binary} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale artifact %s: %w", path, err)
		}
	}
	return nil
}
