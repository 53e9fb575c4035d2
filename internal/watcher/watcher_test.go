package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// collector 线程安全地记录回调收到的路径。
type collector struct {
	mu    sync.Mutex
	paths []string
}

func (c *collector) add(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func (c *collector) waitFor(t *testing.T, n int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	return c.snapshot()
}

func newTestWatcher(dir string, cb Callback) *Watcher {
	w := New(dir, cb, []string{".csv"})
	w.pollInterval = 10 * time.Millisecond
	w.stabilizeTimeout = 300 * time.Millisecond
	return w
}

func TestWatcherDetectsNewFile(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}

	w := newTestWatcher(dir, c.add)
	if err := w.Start(); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "cml_data_1.csv")
	if err := os.WriteFile(path, []byte("time,link_id\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := c.waitFor(t, 1, 3*time.Second)
	if len(got) != 1 || got[0] != path {
		t.Errorf("回调收到 %v, want [%s]", got, path)
	}
}

func TestWatcherIgnoresDisallowedExtensions(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}

	w := newTestWatcher(dir, c.add)
	if err := w.Start(); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	csvPath := filepath.Join(dir, "cml_data_2.csv")
	if err := os.WriteFile(csvPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := c.waitFor(t, 1, 3*time.Second)
	if len(got) != 1 || got[0] != csvPath {
		t.Errorf("回调收到 %v, want 仅 [%s]", got, csvPath)
	}
}

func TestWatcherSurvivesCallbackPanic(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}

	first := true
	cb := func(path string) {
		if first {
			first = false
			panic("boom")
		}
		c.add(path)
	}

	w := newTestWatcher(dir, cb)
	if err := w.Start(); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "cml_data_a.csv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// 等第一个文件被消费（并触发 panic）
	time.Sleep(500 * time.Millisecond)

	second := filepath.Join(dir, "cml_data_b.csv")
	if err := os.WriteFile(second, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := c.waitFor(t, 1, 3*time.Second)
	if len(got) != 1 || got[0] != second {
		t.Errorf("panic 之后监视器应继续工作, 收到 %v", got)
	}
}

func TestProcessExisting(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}

	pre := filepath.Join(dir, "cml_data_pre.csv")
	if err := os.WriteFile(pre, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(dir, c.add)
	w.ProcessExisting()

	got := c.snapshot()
	if len(got) != 1 || got[0] != pre {
		t.Errorf("ProcessExisting 收到 %v, want [%s]", got, pre)
	}
}

func TestStartMissingDirectory(t *testing.T) {
	w := newTestWatcher(filepath.Join(t.TempDir(), "ghost"), func(string) {})
	if err := w.Start(); err == nil {
		t.Fatal("目录不存在时 Start 应报错")
	}
}

func TestStopWaitsForInFlightCallback(t *testing.T) {
	dir := t.TempDir()
	done := make(chan struct{})
	started := make(chan struct{})

	w := newTestWatcher(dir, func(string) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		close(done)
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "cml_data_slow.csv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("回调未被触发")
	}

	w.Stop()
	select {
	case <-done:
		// Stop 返回前回调必须已经完成
	default:
		t.Error("Stop 返回时回调仍在运行")
	}
}
