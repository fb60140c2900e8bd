package run_test

import (
	"context"
	"testing"
	"time"

	"github.com/power-plant/powerplant/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Run_SuccessfulExit(t *testing.T) {
	t.Parallel()

	err := run.NewRunner().Run(context.Background(), run.Command{
		Program: "sh",
		Args:    []string{"-c", "echo hello; echo progress >&2"},
	})
	assert.NoError(t, err)
}

func Test_Run_NonZeroExit(t *testing.T) {
	t.Parallel()

	err := run.NewRunner().Run(context.Background(), run.Command{
		Program: "sh",
		Args:    []string{"-c", "exit 3"},
	})

	var exitErr *run.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.False(t, exitErr.TimedOut)
}

func Test_Run_MissingProgram(t *testing.T) {
	t.Parallel()

	err := run.NewRunner().Run(context.Background(), run.Command{
		Program: "definitely-not-a-real-binary-1b2f",
	})
	assert.Error(t, err)
}

func Test_Run_TimeoutKillsProcess(t *testing.T) {
	t.Parallel()

	start := time.Now()
	err := run.NewRunner().Run(context.Background(), run.Command{
		Program: "sleep",
		Args:    []string{"30"},
		Timeout: time.Millisecond * 200,
	})

	var exitErr *run.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.True(t, exitErr.TimedOut)
	assert.Less(t, time.Since(start), time.Second*10, "process should be killed promptly, not waited on")
}

func Test_Run_ContextCancellationKillsProcess(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(time.Millisecond * 200)
		cancel()
	}()

	start := time.Now()
	err := run.NewRunner().Run(ctx, run.Command{
		Program: "sleep",
		Args:    []string{"30"},
	})

	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second*10)
}
