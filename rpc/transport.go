package rpc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Transport is the byte stream the client frames messages over. The default
// implementation owns a subprocess and exposes its stdin/stdout; tests
// substitute in-memory pipes via WithTransport.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

type stdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// newStdioTransport spawns the subprocess and wires its stdio. Stderr passes
// through so subprocess diagnostics stay visible.
func newStdioTransport(command string, args, env []string) (Transport, error) {
	cmd := exec.Command(command, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	return &stdioTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (t *stdioTransport) Read(p []byte) (int, error) {
	return t.stdout.Read(p)
}

func (t *stdioTransport) Write(p []byte) (int, error) {
	return t.stdin.Write(p)
}

// Close terminates the subprocess. Closing stdin first gives it a chance to
// exit cleanly before the kill.
func (t *stdioTransport) Close() error {
	_ = t.stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.cmd.Wait()
	return nil
}
