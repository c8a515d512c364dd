// Package command executes the actions bound to button triggers: shell
// commands through `sh -c`, and klipper:-prefixed JSON-RPC calls against a
// Moonraker/Klipper API server.
package command

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
)

// Executor runs trigger commands through the shell, capturing their output
// for the logs.
type Executor struct {
	logger  *zap.Logger
	timeout time.Duration
}

// NewExecutor creates an executor. A zero timeout means commands run until
// they finish or ctx is canceled.
func NewExecutor(logger *zap.Logger, timeout time.Duration) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger, timeout: timeout}
}

// Execute runs command with `sh -c` and returns an error when it exits
// non-zero or cannot be started.
func (e *Executor) Execute(ctx context.Context, command string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	stdout := bytebufferpool.Get()
	defer bytebufferpool.Put(stdout)
	stderr := bytebufferpool.Get()
	defer bytebufferpool.Put(stderr)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Killing the shell does not kill its children, and they inherit the
	// output pipes; without a wait delay Run would block on those pipes
	// until every descendant exits on its own.
	cmd.WaitDelay = time.Second

	e.logger.Info("executing command", zap.String("command", command))
	if err := cmd.Run(); err != nil {
		e.logger.Warn("command failed",
			zap.String("command", command),
			zap.ByteString("stderr", stderr.Bytes()),
			zap.Error(err),
		)
		return fmt.Errorf("command %q: %w", command, err)
	}
	if stdout.Len() > 0 {
		e.logger.Debug("command output",
			zap.String("command", command),
			zap.ByteString("stdout", stdout.Bytes()),
		)
	}
	return nil
}
