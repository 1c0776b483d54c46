// Package builtin provides the gateway's stock tool set: filesystem access,
// shell execution, file search, and URL fetching. Handlers assume the
// security engine has already resolved and confined their path arguments.
package builtin

import (
	"fmt"

	"github.com/tailored-agentic-units/gateway/tools"
)

// Register adds every builtin tool to the registry.
func Register(reg *tools.Registry) error {
	for _, register := range []func(*tools.Registry) error{
		registerReadFile,
		registerWriteFile,
		registerListDirectory,
		registerExecCommand,
		registerSearchFiles,
		registerFetchURL,
	} {
		if err := register(reg); err != nil {
			return fmt.Errorf("builtin: %w", err)
		}
	}
	return nil
}

func failure(format string, args ...any) (tools.Result, error) {
	return tools.Result{Content: fmt.Sprintf(format, args...), IsError: true}, nil
}
