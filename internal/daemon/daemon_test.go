package daemon

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPidFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	d := NewDaemon(filepath.Join(dir, "config.yaml"), nil)

	assert.Equal(t, filepath.Join(dir, "ssl-dns01.pid"), d.PidFile)
	assert.False(t, d.Status().Running)
	assert.Equal(t, "守护进程未运行", d.Status().String())

	require.NoError(t, d.WritePid())
	st := d.Status()
	assert.True(t, st.Running)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Contains(t, st.String(), strconv.Itoa(os.Getpid()))

	d.RemovePid()
	assert.False(t, d.Status().Running)
	assert.ErrorIs(t, d.Stop(context.Background()), ErrNotRunning)
}

func TestIsRunningIgnoresGarbage(t *testing.T) {
	d := NewDaemon(filepath.Join(t.TempDir(), "config.yaml"), nil)
	require.NoError(t, os.WriteFile(d.PidFile, []byte("not-a-pid"), 0o644))

	_, running := d.IsRunning()
	assert.False(t, running)
}

func TestWritePidRefusesLiveOwner(t *testing.T) {
	d := NewDaemon(filepath.Join(t.TempDir(), "config.yaml"), nil)
	require.NoError(t, os.WriteFile(d.PidFile, []byte(strconv.Itoa(os.Getppid())), 0o644))

	err := d.WritePid()
	require.Error(t, err)
	assert.Contains(t, err.Error(), strconv.Itoa(os.Getppid()))
}

// startChild 启动子进程并写入 PID 文件，退出后由后台 goroutine 回收
func startChild(t *testing.T, d *Daemon, script string) int {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("没有 sh")
	}

	cmd := exec.Command("sh", "-c", script)
	require.NoError(t, cmd.Start())
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	require.NoError(t, os.WriteFile(d.PidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644))
	return cmd.Process.Pid
}

func TestStopTerminatesProcess(t *testing.T) {
	d := NewDaemon(filepath.Join(t.TempDir(), "config.yaml"), nil)
	d.StopTimeout = 5 * time.Second
	startChild(t, d, "sleep 30")

	require.True(t, d.Status().Running)
	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, d.Status().Running)
}

func TestStopKillsUnresponsiveProcess(t *testing.T) {
	d := NewDaemon(filepath.Join(t.TempDir(), "config.yaml"), nil)
	d.StopTimeout = 300 * time.Millisecond
	startChild(t, d, `trap "" TERM; while true; do sleep 1; done`)

	require.NoError(t, d.Stop(context.Background()))

	_, err := os.Stat(d.PidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestRunLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunLoop(ctx, 10*time.Millisecond, nil, func(context.Context) error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunLoop 未在取消后退出")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestSignalHandlerStop(t *testing.T) {
	h := NewSignalHandler(context.Background(), nil)
	h.Start()
	h.Stop()

	select {
	case <-h.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context 未取消")
	}
}
