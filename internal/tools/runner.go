package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var ErrEmptyCommand = errors.New("tools: empty command")

// Result is the outcome of one command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandRunner executes one command line.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if strings.TrimSpace(name) == "" {
		return Result{ExitCode: 127}, ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrNotFound):
		res.ExitCode = 127
	default:
		res.ExitCode = 1
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return res, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return res, fmt.Errorf("%s: %w", name, err)
}

// RunLine splits line[0] from its arguments and runs it.
func RunLine(ctx context.Context, r CommandRunner, line []string) (Result, error) {
	if len(line) == 0 {
		return Result{ExitCode: 127}, ErrEmptyCommand
	}
	return r.Run(ctx, line[0], line[1:]...)
}
