// Package watcher 监视 incoming 目录中新出现的文件并触发处理回调。
// 对每个路径保证至多一个并发回调；回调内的任何失败都被隔离在该文件内，
// 不会中断监视循环。
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cml-pipeline-go/pkg/log"
)

// Callback 在文件就绪后被调用，参数为文件的完整路径。
type Callback func(path string)

// Watcher 包装 fsnotify，增加扩展名过滤、写入稳定等待与 in-flight 去重。
type Watcher struct {
	dir        string
	callback   Callback
	extensions map[string]struct{}

	// 写入稳定性探测参数；测试会注入更短的间隔
	pollInterval     time.Duration
	stabilizeTimeout time.Duration

	fw *fsnotify.Watcher
	wg sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New 创建目录监视器。extensions 为允许的扩展名集合（如 ".csv"），
// 为空时不过滤。
func New(dir string, callback Callback, extensions []string) *Watcher {
	extSet := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		extSet[strings.ToLower(e)] = struct{}{}
	}
	return &Watcher{
		dir:              dir,
		callback:         callback,
		extensions:       extSet,
		pollInterval:     500 * time.Millisecond,
		stabilizeTimeout: 10 * time.Second,
		inflight:         make(map[string]struct{}),
	}
}

// Start 开始监视目录。目录不存在时返回错误。
func (w *Watcher) Start() error {
	info, err := os.Stat(w.dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("监视目录不存在: %s", w.dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件系统监视器失败: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("监视目录 %s 失败: %w", w.dir, err)
	}
	w.fw = fw

	w.wg.Add(1)
	go w.loop()

	log.Infof("开始监视目录 %s", w.dir)
	return nil
}

// Stop 同步停止监视：关闭事件源并等待进行中的回调结束，
// 避免回调在管道已拆除后继续运行。
func (w *Watcher) Stop() {
	if w.fw != nil {
		_ = w.fw.Close()
	}
	w.wg.Wait()
	log.Info("文件监视器已停止")
}

// ProcessExisting 处理启动时 incoming 目录中已存在的文件。
// 与事件路径走同一个分发入口，享受同样的过滤与去重。
func (w *Watcher) ProcessExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Error("扫描已有文件失败", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.dispatch(filepath.Join(w.dir, e.Name()))
	}
}

// loop 是事件处理主循环。回调在本 goroutine 内同步执行：
// 一个文件完整处理结束后才取下一个事件，天然串行。
func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) {
				w.dispatch(ev.Name)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Error("文件系统监视器报告错误", err)
		}
	}
}

// dispatch 对单个路径做过滤、稳定等待、去重，然后调用回调。
func (w *Watcher) dispatch(path string) {
	info, err := os.Stat(path)
	if err != nil {
		// 事件到达时文件可能已被移走
		return
	}
	if info.IsDir() {
		return
	}
	if !w.allowed(path) {
		log.Debugf("忽略不支持的文件: %s", filepath.Base(path))
		return
	}

	w.waitForStable(path)

	if !w.markInflight(path) {
		return
	}
	defer w.clearInflight(path)

	defer func() {
		// 回调的 panic 不应摧毁监视器，记下后继续处理下一个文件
		if rec := recover(); rec != nil {
			log.Errorf("处理文件 %s 时回调 panic: %v", path, rec)
		}
	}()

	log.Infof("检测到新文件: %s", path)
	w.callback(path)
}

// allowed 按扩展名过滤。
func (w *Watcher) allowed(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	_, ok := w.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// markInflight 尝试登记路径，已在处理中时返回 false。
func (w *Watcher) markInflight(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[path]; busy {
		return false
	}
	w.inflight[path] = struct{}{}
	return true
}

func (w *Watcher) clearInflight(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, path)
}

// waitForStable 轮询文件大小，直到两次相邻读数相等且非零，
// 或超时。超时不是致命的：记警告后照常处理，宁可冒险也不丢文件。
func (w *Watcher) waitForStable(path string) {
	deadline := time.Now().Add(w.stabilizeTimeout)
	lastSize := int64(-1)
	for time.Now().Before(deadline) {
		info, err := os.Stat(path)
		if err == nil {
			size := info.Size()
			if size == lastSize && size > 0 {
				return
			}
			lastSize = size
		}
		time.Sleep(w.pollInterval)
	}
	log.Warnf("等待文件写入稳定超时: %s", path)
}
