package osexec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	res, err := Run(context.Background(), log.NewNopLogger(), "bash",
		[]string{"-c", "echo ${VAR1} ${VAR2}"},
		Options{Env: []string{"VAR1=1", "VAR2=2"}})
	require.NoError(t, err)
	assert.Equal(t, "1 2", strings.TrimSpace(string(res.Stdout)))
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunNonzero(t *testing.T) {
	_, err := Run(context.Background(), log.NewNopLogger(), "bash", []string{"-c", "exit 3"}, Options{})
	require.Error(t, err)

	var nzErr *NonzeroError
	require.True(t, errors.As(err, &nzErr))
	assert.Equal(t, 3, nzErr.Result.ExitCode)
	assert.True(t, errors.Is(err, ErrNonzero))
}

func TestRunSpawnFailed(t *testing.T) {
	_, err := Run(context.Background(), log.NewNopLogger(), "definitely-not-a-real-binary", nil, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawnFailed))
}

func TestRunTimeout(t *testing.T) {
	_, err := Run(context.Background(), log.NewNopLogger(), "sleep", []string{"5"}, Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimedOut))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Run(ctx, log.NewNopLogger(), "sleep", []string{"5"}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCancelled))
}

func TestLookPath(t *testing.T) {
	assert.True(t, LookPath("bash"))
	assert.False(t, LookPath("definitely-not-a-real-binary"))
}
