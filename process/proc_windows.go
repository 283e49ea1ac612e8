//go:build windows

package process

import "os/exec"

// configureProcessGroup keeps the default CommandContext behavior, which
// kills the direct child only.
func configureProcessGroup(cmd *exec.Cmd) {}
