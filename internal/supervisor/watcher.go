package supervisor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchedChild 当前子进程及其退出通知
type watchedChild struct {
	cmd  *exec.Cmd
	done chan struct{} // cmd.Wait 返回后关闭
}

// Watcher 开发模式自动重载
// 监听源码目录，文件变更去抖后重启子进程；连发的事件合并为一次重启。
type Watcher struct {
	watchPaths []string
	childArgs  []string
	debounce   time.Duration
	stopGrace  time.Duration
	logger     *zap.Logger

	mu    sync.Mutex
	child *watchedChild
}

// NewWatcher 创建自动重载监听器
func NewWatcher(watchPaths, childArgs []string, logger *zap.Logger) *Watcher {
	return &Watcher{
		watchPaths: watchPaths,
		childArgs:  childArgs,
		debounce:   2 * time.Second,
		stopGrace:  5 * time.Second,
		logger:     logger,
	}
}

// Run 启动子进程并监听文件变更，阻塞直到 ctx 取消
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fs watcher: %w", err)
	}
	defer fsw.Close()

	watched := 0
	for _, root := range w.watchPaths {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		// fsnotify 不递归，逐级注册子目录
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			if err := fsw.Add(path); err == nil {
				watched++
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to register watch paths: %w", err)
		}
		w.logger.Info("Watching for changes", zap.String("path", root))
	}
	if watched == 0 {
		return fmt.Errorf("no watchable paths found")
	}

	exit := make(chan struct{}, 1)
	if err := w.startChild(exit); err != nil {
		return err
	}
	defer w.stopChild()

	reload := newDebouncer(w.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !qualifies(event) {
				continue
			}
			w.logger.Info("File changed, scheduling reload",
				zap.String("file", event.Name),
			)
			// 去抖：窗口内的后续事件合并为一次重启
			reload.Trigger()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))

		case <-reload.C:
			reload.Fired()
			w.logger.Info("Reloading bot process")
			w.stopChild()
			if err := w.startChild(exit); err != nil {
				w.logger.Error("Failed to restart child", zap.Error(err))
			} else {
				w.logger.Info("Bot process reloaded")
			}

		case <-exit:
			if ctx.Err() != nil {
				return nil
			}
			// 子进程意外退出：3 秒后拉起新实例
			w.logger.Warn("Bot process exited unexpectedly, restarting in 3s")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			if err := w.startChild(exit); err != nil {
				w.logger.Error("Failed to restart child", zap.Error(err))
			}
		}
	}
}

// debouncer 把一窗口内的连续事件合并为 C 上的一次触发
// C 为 nil（未安排触发）时在 select 中永远阻塞。
type debouncer struct {
	d     time.Duration
	timer *time.Timer
	C     <-chan time.Time
}

func newDebouncer(d time.Duration) *debouncer {
	return &debouncer{d: d}
}

// Trigger 安排一次触发；已安排时推迟到新窗口
func (b *debouncer) Trigger() {
	if b.timer == nil {
		b.timer = time.NewTimer(b.d)
		b.C = b.timer.C
		return
	}
	// Reset 前先排空已落入通道的 tick，否则会多触发一次
	if !b.timer.Stop() {
		select {
		case <-b.C:
		default:
		}
	}
	b.timer.Reset(b.d)
}

// Fired 消费触发后复位
func (b *debouncer) Fired() {
	b.timer = nil
	b.C = nil
}

// qualifies 是否为触发重载的事件（忽略编辑器临时文件）
func qualifies(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") {
		return false
	}
	return true
}

// startChild 启动子进程；退出时通过 exit 通知（仅当它仍是当前子进程）
func (w *Watcher) startChild(exit chan<- struct{}) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	cmd := exec.Command(exe, w.childArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start child: %w", err)
	}

	child := &watchedChild{cmd: cmd, done: make(chan struct{})}

	w.mu.Lock()
	w.child = child
	w.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		close(child.done)

		w.mu.Lock()
		stillCurrent := w.child == child
		w.mu.Unlock()
		if stillCurrent {
			select {
			case exit <- struct{}{}:
			default:
			}
		}
	}()

	w.logger.Info("Started bot process", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// stopChild 优雅终止子进程，宽限期后强杀
func (w *Watcher) stopChild() {
	w.mu.Lock()
	child := w.child
	w.child = nil
	w.mu.Unlock()

	if child == nil || child.cmd.Process == nil {
		return
	}

	_ = child.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-child.done:
	case <-time.After(w.stopGrace):
		w.logger.Warn("Child did not exit in time, force killing")
		_ = child.cmd.Process.Kill()
		<-child.done
	}
}
