package security

import "errors"

// Mode is the active security posture gating tool execution.
type Mode string

const (
	// ModeSafe confines filesystem tools to the workspace root, restricts
	// shell tools to an allow-list, and redirects managed continuity files.
	ModeSafe Mode = "safe"
	// ModeSpicy skips sandbox containment and the shell allow-list. The
	// confirmation step still runs unless max obedience is enabled.
	ModeSpicy Mode = "spicy"
)

// Sentinel errors for security-engine rejections. The orchestrator converts
// them into failed tool results; they never abort a session.
var (
	ErrOutsideSandbox        = errors.New("path resolves outside the workspace sandbox")
	ErrBinaryNotAllowed      = errors.New("shell binary not in the safe-mode allow-list")
	ErrManagedFileShellWrite = errors.New("shell writes to managed continuity files are blocked; use the filesystem tools")
	ErrEmptyCommand          = errors.New("shell command is empty")
)

// IsRejection reports whether err is a policy rejection rather than a
// transport or lookup failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOutsideSandbox) ||
		errors.Is(err, ErrBinaryNotAllowed) ||
		errors.Is(err, ErrManagedFileShellWrite) ||
		errors.Is(err, ErrEmptyCommand)
}
