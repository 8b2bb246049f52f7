package pid_test

import (
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, pid.Write(dir))
	data, err := os.ReadFile(pid.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// Re-entrant for the owning process.
	require.NoError(t, pid.Write(dir))

	require.NoError(t, pid.Remove(dir))
	_, err = os.Stat(pid.Path(dir))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, pid.Remove(dir))
}

func TestWriteHeldByLiveProcess(t *testing.T) {
	dir := t.TempDir()
	// The parent of the test binary is alive for the duration of the test.
	require.NoError(t, os.WriteFile(pid.Path(dir), []byte(strconv.Itoa(os.Getppid())), 0o600))

	err := pid.Write(dir)
	require.Error(t, err)
	assert.Equal(t, errors.ErrAlreadyRunning, errors.CodeOf(err))

	// Someone else's lock is left alone.
	require.NoError(t, pid.Remove(dir))
	_, err = os.Stat(pid.Path(dir))
	assert.NoError(t, err)
}

func TestWriteTakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(pid.Path(dir), []byte("garbage"), 0o600))

	require.NoError(t, pid.Write(dir))
	data, err := os.ReadFile(pid.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestWriteMissingDir(t *testing.T) {
	err := pid.Write(t.TempDir() + "/missing")
	require.Error(t, err)
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(err))
}

func TestWriteAfterOwnerExits(t *testing.T) {
	dir := t.TempDir()

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	owner := cmd.Process.Pid
	require.NoError(t, os.WriteFile(pid.Path(dir), []byte(strconv.Itoa(owner)), 0o600))

	err := pid.Write(dir)
	assert.Equal(t, errors.ErrAlreadyRunning, errors.CodeOf(err))

	require.NoError(t, cmd.Process.Kill())
	cmd.Wait()

	require.NoError(t, pid.Write(dir))
	data, err := os.ReadFile(pid.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestWriteConcurrentLeavesOneLock(t *testing.T) {
	dir := t.TempDir()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = pid.Write(dir)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	data, err := os.ReadFile(pid.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}
