package security

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// writingBinaries are commands that mutate files; combined with a managed
// continuity filename in the command line they indicate a shell-side write.
var writingBinaries = []string{"tee", "mv", "cp", "sed", "rm", "truncate", "dd", "install"}

// DefaultShellAllowlist is the safe-mode binary allow-list used when the
// configuration does not supply one.
var DefaultShellAllowlist = []string{
	"ls", "cat", "head", "tail", "grep", "find", "wc", "echo", "pwd",
	"git", "go", "make", "curl", "date", "which", "env", "diff", "sort", "uniq",
}

// checkShellCommand enforces the safe-mode shell policy: the invoked binary
// must be on the allow-list, and no command may write to a managed
// continuity file through the shell. The second rule closes the loophole of
// bypassing the filesystem redirect with redirection operators.
func checkShellCommand(command string, allowlist []string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ErrEmptyCommand
	}

	binary := filepath.Base(fields[0])
	if !slices.Contains(allowlist, binary) {
		return fmt.Errorf("%w: %s", ErrBinaryNotAllowed, binary)
	}

	if shellWritesManagedFile(command) {
		return fmt.Errorf("%w: %s", ErrManagedFileShellWrite, command)
	}
	return nil
}

// shellWritesManagedFile reports whether the command both references a
// managed continuity filename and contains a writing construct (a
// redirection operator or a mutating binary anywhere in the pipeline).
// Read-only references pass.
func shellWritesManagedFile(command string) bool {
	lower := strings.ToLower(command)

	referenced := false
	for _, name := range managedContinuityFiles {
		if strings.Contains(lower, strings.ToLower(name)) {
			referenced = true
			break
		}
	}
	if !referenced {
		return false
	}

	if strings.Contains(command, ">") {
		return true
	}
	for _, field := range strings.Fields(lower) {
		if slices.Contains(writingBinaries, filepath.Base(field)) {
			return true
		}
	}
	return false
}
