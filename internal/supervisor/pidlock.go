package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// ErrAlreadyRunning 同一作用域已有存活的 supervisor 实例
var ErrAlreadyRunning = errors.New("another instance is already running")

// Guard 重复实例防护
// 每个作用域（全局或单租户）一个 PID 锁文件；仅提供单机 advisory 语义，
// 多机部署应替换为共识型分布式锁。
type Guard struct {
	lockDir   string
	signature string // 进程命令行签名，如 "multilang-bots run"
	logger    *zap.Logger
}

// NewGuard 创建防护器
func NewGuard(lockDir, signature string, logger *zap.Logger) *Guard {
	return &Guard{
		lockDir:   lockDir,
		signature: signature,
		logger:    logger,
	}
}

// lockFile 作用域对应的锁文件路径；tenantID 0 表示全局作用域
func (g *Guard) lockFile(tenantID int64) string {
	if tenantID > 0 {
		return filepath.Join(g.lockDir, fmt.Sprintf("bot_tenant_%d.pid", tenantID))
	}
	return filepath.Join(g.lockDir, "bot_all.pid")
}

// Acquire 获取作用域锁
// 已有存活实例时返回 ErrAlreadyRunning（附带占用方 PID）；
// 记录的 PID 已死则清除陈旧锁文件并继续。
func (g *Guard) Acquire(tenantID int64) error {
	if err := os.MkdirAll(g.lockDir, 0o755); err != nil {
		return fmt.Errorf("failed to create lock dir: %w", err)
	}

	running, pid, err := g.CheckExisting(tenantID)
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("%w (pid: %d)", ErrAlreadyRunning, pid)
	}

	// 清理未干净退出留下的重复进程（没有锁文件但仍在跑）
	if killed, err := g.KillDuplicates(tenantID, int32(os.Getpid())); err != nil {
		g.logger.Warn("Duplicate process sweep failed", zap.Error(err))
	} else if killed > 0 {
		g.logger.Info("Killed duplicate bot processes", zap.Int("count", killed))
	}

	path := g.lockFile(tenantID)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	g.logger.Info("Acquired instance lock",
		zap.String("pid_file", path),
		zap.Int("pid", os.Getpid()),
	)
	return nil
}

// Release 释放作用域锁；重复删除已不存在的锁文件是 no-op
func (g *Guard) Release(tenantID int64) {
	path := g.lockFile(tenantID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		g.logger.Error("Failed to remove pid file",
			zap.String("pid_file", path),
			zap.Error(err),
		)
		return
	}
	g.logger.Info("Released instance lock", zap.String("pid_file", path))
}

// CheckExisting 检查作用域是否已被存活实例占用
// 返回 (是否占用, 占用方 PID)。PID 已死或命令行签名不符时清理陈旧锁文件。
func (g *Guard) CheckExisting(tenantID int64) (bool, int32, error) {
	path := g.lockFile(tenantID)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("failed to read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// 锁文件内容损坏，按陈旧处理
		g.removeStale(path)
		return false, 0, nil
	}

	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false, 0, fmt.Errorf("failed to check pid %d: %w", pid, err)
	}
	if exists && g.matchesSignature(int32(pid)) {
		return true, int32(pid), nil
	}

	// 进程表确认占用方已消失，回收锁
	g.removeStale(path)
	return false, 0, nil
}

// KillDuplicates 扫描进程表，尽力终止同作用域的重复进程
func (g *Guard) KillDuplicates(tenantID int64, currentPID int32) (int, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	pattern := g.signature
	if tenantID > 0 {
		pattern = fmt.Sprintf("%s --tenant=%d", g.signature, tenantID)
	}

	parentPID := int32(os.Getppid())
	killed := 0
	for _, p := range procs {
		// 自身与父进程（watcher 或 supervisor）不在清理范围内
		if p.Pid == currentPID || p.Pid == parentPID {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		if !strings.Contains(cmdline, pattern) {
			continue
		}
		g.logger.Warn("Killing duplicate process",
			zap.Int32("pid", p.Pid),
			zap.String("cmdline", cmdline),
		)
		if err := p.Kill(); err != nil {
			g.logger.Error("Failed to kill duplicate", zap.Int32("pid", p.Pid), zap.Error(err))
			continue
		}
		killed++
	}

	if killed > 0 {
		// 等待被杀进程完全退出
		time.Sleep(time.Second)
	}
	return killed, nil
}

func (g *Guard) matchesSignature(pid int32) bool {
	p, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	cmdline, err := p.Cmdline()
	if err != nil {
		return false
	}
	return strings.Contains(cmdline, g.signature)
}

func (g *Guard) removeStale(path string) {
	if err := os.Remove(path); err == nil {
		g.logger.Info("Removed stale pid file", zap.String("pid_file", path))
	}
}
