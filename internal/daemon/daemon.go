// Package daemon 后台运行和定时检查
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ssl-dns01/internal/logger"
)

const (
	// EnvDaemonized 标记进程是否已后台化
	EnvDaemonized = "SSL_DNS01_DAEMONIZED"

	appName = "ssl-dns01"

	defaultStopTimeout = 3 * time.Second
	stopPollInterval   = 100 * time.Millisecond
)

// ErrNotRunning 守护进程未运行
var ErrNotRunning = errors.New("守护进程未运行")

// Status 守护进程状态
type Status struct {
	PID     int
	Running bool
	PidFile string
	LogFile string
}

func (s Status) String() string {
	if !s.Running {
		return "守护进程未运行"
	}
	return fmt.Sprintf("守护进程运行中，PID: %d\nPID文件: %s\n日志文件: %s", s.PID, s.PidFile, s.LogFile)
}

// Daemon 守护进程管理器，PID 文件记录后台进程
type Daemon struct {
	PidFile    string
	LogFile    string
	ConfigPath string

	// StopTimeout 发送 SIGTERM 后等待退出的时间，超时后强制终止
	StopTimeout time.Duration

	log *zap.SugaredLogger
}

// NewDaemon 创建守护进程管理器，PID 和日志文件放在配置文件同目录
func NewDaemon(configPath string, log *zap.SugaredLogger) *Daemon {
	dir := filepath.Dir(configPath)
	if dir == "." {
		dir, _ = os.Getwd()
	}

	return &Daemon{
		PidFile:     filepath.Join(dir, appName+".pid"),
		LogFile:     filepath.Join(dir, appName+".log"),
		ConfigPath:  configPath,
		StopTimeout: defaultStopTimeout,
		log:         logger.OrNop(log),
	}
}

// Start 启动守护进程。
// 当前进程已经是守护进程时返回 nil，由调用方继续执行业务逻辑。
func (d *Daemon) Start() error {
	if st := d.Status(); st.Running {
		return fmt.Errorf("守护进程已在运行，PID: %d", st.PID)
	}

	if IsDaemonized() {
		return nil
	}

	return d.spawn()
}

// spawn 以新会话启动子进程执行 daemon 子命令，输出重定向到日志文件
func (d *Daemon) spawn() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("获取可执行文件路径失败: %w", err)
	}

	logFile, err := os.OpenFile(d.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("无法打开日志文件 %s: %w", d.LogFile, err)
	}
	defer logFile.Close()

	cmd := exec.Command(executable, "--config", d.ConfigPath, "daemon")
	cmd.Env = append(os.Environ(), EnvDaemonized+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("启动守护进程失败: %w", err)
	}

	d.log.Infof("[守护进程] 已启动，PID: %d", cmd.Process.Pid)
	d.log.Infof("[守护进程] 日志文件: %s, PID文件: %s", d.LogFile, d.PidFile)
	return nil
}

// Stop 发送 SIGTERM 并等待退出，StopTimeout 内未退出则 SIGKILL
func (d *Daemon) Stop(ctx context.Context) error {
	st := d.Status()
	if !st.Running {
		return ErrNotRunning
	}

	if err := syscall.Kill(st.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("发送停止信号失败: %w", err)
	}
	d.log.Infof("[守护进程] 已发送停止信号到进程 %d", st.PID)

	timeout := d.StopTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.waitExit(waitCtx) {
		d.log.Infof("[守护进程] 已停止")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	d.log.Warnf("[守护进程] 进程 %d 在 %v 内未退出，强制终止", st.PID, timeout)
	if err := syscall.Kill(st.PID, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("强制终止失败: %w", err)
	}

	// 被强制终止的进程来不及清理 PID 文件
	d.RemovePid()
	d.log.Infof("[守护进程] 已强制停止")
	return nil
}

// waitExit 等待进程退出，ctx 结束时返回 false
func (d *Daemon) waitExit(ctx context.Context) bool {
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		if _, running := d.IsRunning(); !running {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Restart 重启守护进程，未运行时直接启动
func (d *Daemon) Restart(ctx context.Context) error {
	err := d.Stop(ctx)
	switch {
	case errors.Is(err, ErrNotRunning):
		d.log.Infof("[守护进程] 未在运行，直接启动")
	case err != nil:
		return fmt.Errorf("停止守护进程失败: %w", err)
	}
	return d.Start()
}

// Status 返回守护进程状态
func (d *Daemon) Status() Status {
	pid, running := d.IsRunning()
	return Status{PID: pid, Running: running, PidFile: d.PidFile, LogFile: d.LogFile}
}

// IsRunning 读取 PID 文件并检查进程是否存在
func (d *Daemon) IsRunning() (int, bool) {
	data, err := os.ReadFile(d.PidFile)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	// 信号 0 只检查进程是否存在；EPERM 说明进程存在但属于其他用户
	err = syscall.Kill(pid, syscall.Signal(0))
	return pid, err == nil || errors.Is(err, syscall.EPERM)
}

// WritePid 写入当前进程的 PID，其他存活进程持有 PID 文件时报错
func (d *Daemon) WritePid() error {
	if pid, running := d.IsRunning(); running && pid != os.Getpid() {
		return fmt.Errorf("守护进程已在运行，PID: %d", pid)
	}
	return os.WriteFile(d.PidFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePid 删除 PID 文件
func (d *Daemon) RemovePid() {
	if err := os.Remove(d.PidFile); err != nil && !os.IsNotExist(err) {
		d.log.Warnf("[守护进程] 删除PID文件失败: %v", err)
	}
}

// IsDaemonized 检查当前进程是否是守护进程
func IsDaemonized() bool {
	return os.Getenv(EnvDaemonized) == "1"
}

// RunLoop 立即执行一次 fn，之后每隔 interval 执行，直到 ctx 取消
func RunLoop(ctx context.Context, interval time.Duration, log *zap.SugaredLogger, fn func(context.Context) error) {
	log = logger.OrNop(log)

	run := func() {
		if err := fn(ctx); err != nil {
			log.Errorf("本轮检查失败: %v", err)
		}
		log.Infof("下次检查时间: %s", time.Now().Add(interval).Format("2006-01-02 15:04:05"))
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("守护进程退出")
			return
		case <-ticker.C:
			run()
		}
	}
}
