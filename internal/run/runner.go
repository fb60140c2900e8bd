package run

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/power-plant/powerplant/pkg/logger"
)

var log = logger.Get("ProcessRunner")

type (
	// Command describes a single external process invocation. Arguments
	// are passed as a structured list directly to the spawn API - never
	// through a shell - so no quoting or interpolation concerns exist here.
	Command struct {
		Program string
		Args    []string

		// Timeout bounds the lifetime of the process. Zero means the
		// process is only bounded by the context provided to Run.
		Timeout time.Duration
	}

	// ExitError is the failure outcome of a Run. The runner never interprets
	// exit codes beyond zero/non-zero; domain meaning is added by callers.
	ExitError struct {
		Program  string
		Code     int
		TimedOut bool
	}

	Runner struct{}
)

func (e *ExitError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s timed out and was killed", e.Program)
	}

	return fmt.Sprintf("%s exited with code %d", e.Program, e.Code)
}

func NewRunner() *Runner {
	return &Runner{}
}

// Run starts the command and blocks until it exits, the timeout fires, or
// the context is cancelled. Process output is forwarded line-by-line to the
// logging sink; consecutive duplicate lines on stderr are suppressed to
// avoid log flooding from progress bars.
//
// The child is placed in its own process group, and on timeout/cancellation
// the entire group is killed so no orphaned children are left behind.
func (r *Runner) Run(ctx context.Context, command Command) error {
	runCtx := ctx
	if command.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	cmd := exec.Command(command.Program, command.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe for %s: %w", command.Program, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe for %s: %w", command.Program, err)
	}

	log.Emit(logger.INFO, "> %s %s\n", command.Program, strings.Join(command.Args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", command.Program, err)
	}

	outputWg := &sync.WaitGroup{}
	outputWg.Add(2)
	go func() {
		defer outputWg.Done()
		forwardLines(stdout, func(line string) {
			log.Emit(logger.DEBUG, "[%s] %s\n", command.Program, line)
		})
	}()
	go func() {
		defer outputWg.Done()
		lastLine := ""
		forwardLines(stderr, func(line string) {
			if line == lastLine {
				return
			}

			lastLine = line
			log.Emit(logger.WARNING, "[%s] %s\n", command.Program, line)
		})
	}()

	// Reap the process group if the context closes before the process does.
	waitDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			killProcessGroup(cmd)
		case <-waitDone:
		}
	}()

	outputWg.Wait()
	waitErr := cmd.Wait()
	close(waitDone)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		log.Emit(logger.STOP, "%s exceeded its deadline and was forcibly terminated\n", command.Program)
		return &ExitError{Program: command.Program, TimedOut: true}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			log.Emit(logger.ERROR, "%s exited with code %d\n", command.Program, exitErr.ExitCode())
			return &ExitError{Program: command.Program, Code: exitErr.ExitCode()}
		}

		return fmt.Errorf("failed to wait on %s: %w", command.Program, waitErr)
	}

	log.Emit(logger.SUCCESS, "%s exited with code 0\n", command.Program)
	return nil
}

func forwardLines(reader io.Reader, sink func(string)) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(scanner.Text())
	}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	// Negative PID targets the whole process group, which catches any
	// children the downloader/transcoder may have spawned.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
